// Package locks provides distributed locking on Redis via the Redlock
// algorithm from go-redsync/redsync/v4. Routing uses per-request locks so
// that concurrent route and reroute calls for the same request serialize
// across instances; the escalation scheduler uses a sweep lock so only one
// instance fans out notifications per sweep cycle.
//
// Acquired locks are renewed automatically at 1/3 of their expiry until
// released, so a long critical section does not lose its lock.
package locks

import (
	"context"
	"time"

	"task-router/internal/redis"
)

// sweepLockTTL covers one escalation sweep cycle. A crashed holder frees the
// sweep for other instances within this window.
const sweepLockTTL = 30 * time.Second

// Lock is a held distributed lock.
type Lock interface {
	// Key returns the identifier the lock was acquired under.
	Key() string

	// Extend updates the expiry used by subsequent automatic renewals.
	Extend(ctx context.Context, expiration time.Duration) error

	// Release stops renewal and frees the lock in Redis. Safe to call more
	// than once.
	Release(ctx context.Context) error

	// IsHeld reports whether this instance still holds the lock. It checks
	// local renewal state only and does not query Redis.
	IsHeld() bool
}

// Manager acquires distributed locks. All methods are safe for concurrent
// use.
type Manager interface {
	// AcquireLock takes the named lock, or fails if another holder has it.
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)

	// AcquireSweepLock takes the escalation sweep lock for this sweep cycle.
	AcquireSweepLock(ctx context.Context) (Lock, error)

	// Close releases every lock still held by this manager.
	Close() error
}

// NewManager creates a Redlock-backed lock manager on the given Redis
// client.
func NewManager(redisClient *redis.Client) (Manager, error) {
	rm, err := newRedsyncManager(redisClient)
	if err != nil {
		return nil, err
	}
	return rm, nil
}
