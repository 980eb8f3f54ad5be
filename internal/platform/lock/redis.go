package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollInterval = 25 * time.Millisecond

// releaseScript deletes the lock key only when still owned by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX leases, for deployments where more
// than one process serves the same terminals. The lease bounds how long a
// crashed holder can block others.
type Redis struct {
	client *redis.Client
	wait   time.Duration
	lease  time.Duration
}

// NewRedis constructs a Redis locker.
func NewRedis(client *redis.Client, wait, lease time.Duration) *Redis {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &Redis{client: client, wait: wait, lease: lease}
}

// WithLock runs fn while holding the lease for key.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	if err := r.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrResourceBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
