// Package lock arbitrates which depot process owns the job registry. Only the
// owner may recover state and issue lifecycle transitions; the others wait.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"
)

var log = slog.Default()

var (
	// ErrNotHeld is returned by Renew and Release when the caller does not
	// own the lock.
	ErrNotHeld = errors.New("lock not held")
	// ErrLockLost is returned by Renew when ownership passed to someone else.
	ErrLockLost = errors.New("lock ownership lost")
)

// Locker is a single-owner lock.
type Locker interface {
	// TryAcquire takes the lock if it is free. It does not block waiting.
	TryAcquire(ctx context.Context) (bool, error)
	// Renew confirms the lock is still held and extends it where the
	// backend expires locks.
	Renew(ctx context.Context) error
	// Release gives the lock up.
	Release(ctx context.Context) error
}

// Acquire retries TryAcquire every interval until it succeeds or ctx ends.
func Acquire(ctx context.Context, l Locker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			log.Warn("lock acquire attempt failed", "attempt", attempt, "error", err)
		}
		if ok {
			return nil
		}
		if attempt == 1 {
			log.Info("registry lock held elsewhere, waiting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Key maps a lock name to a 64-bit advisory lock key.
func Key(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// Noop is a Locker that always succeeds, for single-process deployments.
type Noop struct{}

func (Noop) TryAcquire(context.Context) (bool, error) { return true, nil }
func (Noop) Renew(context.Context) error               { return nil }
func (Noop) Release(context.Context) error             { return nil }
