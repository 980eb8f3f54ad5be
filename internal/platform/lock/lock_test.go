package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	locker := NewKeyed(time.Second)
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "counter:1", func(ctx context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestKeyedDistinctKeysDoNotBlock(t *testing.T) {
	locker := NewKeyed(100 * time.Millisecond)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "counter:1", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(ctx, "counter:2", func(ctx context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated key blocked")
	}
	close(release)
}

func TestKeyedTimeoutSurfacesResourceBusy(t *testing.T) {
	locker := NewKeyed(30 * time.Millisecond)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "book:active", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.WithLock(ctx, "book:active", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrResourceBusy)
	close(release)
}

func TestRedisLockAcquireRelease(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	locker := NewRedis(client, 200*time.Millisecond, time.Second)
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "po:7", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	// Key must be released afterwards.
	require.False(t, srv.Exists("po:7"))
}

func TestRedisLockContendedReturnsBusy(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "po:7", "other-holder", time.Minute).Err())

	locker := NewRedis(client, 60*time.Millisecond, time.Second)
	err := locker.WithLock(context.Background(), "po:7", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrResourceBusy)
}

func TestRedisLockDoesNotReleaseForeignHolder(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	locker := NewRedis(client, 100*time.Millisecond, 50*time.Millisecond)
	err := locker.WithLock(context.Background(), "po:9", func(ctx context.Context) error {
		// Simulate lease expiry plus takeover by another process.
		srv.FastForward(time.Second)
		require.NoError(t, client.Set(ctx, "po:9", "other-holder", time.Minute).Err())
		return nil
	})
	require.NoError(t, err)
	val, err := client.Get(context.Background(), "po:9").Result()
	require.NoError(t, err)
	require.Equal(t, "other-holder", val)
}
