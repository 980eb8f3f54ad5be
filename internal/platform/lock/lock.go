package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrResourceBusy signals that the per-resource lock could not be acquired
// within the configured wait window. Callers should retry with backoff.
var ErrResourceBusy = errors.New("lock: resource busy")

// Locker serializes access to a named resource. Implementations must scope
// exclusion per key so unrelated resources never contend.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Keyed is an in-process Locker backed by a per-key mutex table. Acquisition
// waits are bounded; a contended key surfaces ErrResourceBusy instead of
// blocking a terminal indefinitely.
type Keyed struct {
	wait    time.Duration
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyed constructs a Keyed locker with the given maximum acquisition wait.
func NewKeyed(wait time.Duration) *Keyed {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &Keyed{wait: wait, entries: make(map[string]*keyEntry)}
}

// WithLock runs fn while holding the exclusive lock for key.
func (k *Keyed) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := k.retain(key)
	defer k.release(key)

	timer := time.NewTimer(k.wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-timer.C:
		return ErrResourceBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.sem }()

	return fn(ctx)
}

func (k *Keyed) retain(key string) *keyEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(k.entries, key)
	}
}
