package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"task-router/internal/common/errors"
	"task-router/internal/redis"
)

// redsyncManager implements Manager on top of redsync mutexes. It tracks
// held locks locally and runs a renewal goroutine per lock.
type redsyncManager struct {
	redsync   *redsync.Redsync
	heldLocks map[string]*redsyncLock
	mutex     sync.RWMutex
}

// redsyncLock wraps a redsync.Mutex as a Lock with automatic renewal.
type redsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *redsyncManager
}

func newRedsyncManager(redisClient *redis.Client) (*redsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GoRedis())
	return &redsyncManager{
		redsync:   redsync.New(pool),
		heldLocks: make(map[string]*redsyncLock),
	}, nil
}

func (rm *redsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.heldLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

func (rm *redsyncManager) AcquireSweepLock(ctx context.Context) (Lock, error) {
	return rm.AcquireLock(ctx, "escalation:sweep", sweepLockTTL)
}

// renewLock extends the lock at 1/3 of its expiry (minimum 1s) until the
// lock is released. If renewal fails the lock is presumed lost and cleaned
// up locally.
func (rm *redsyncManager) renewLock(lock *redsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.releaseLock(lock)
				return
			}
		}
	}
}

func (rm *redsyncManager) releaseLock(lock *redsyncLock) {
	rm.mutex.Lock()
	delete(rm.heldLocks, lock.key)
	rm.mutex.Unlock()

	lock.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lock.mutex.UnlockContext(ctx)
}

func (rm *redsyncManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	for _, lock := range rm.heldLocks {
		lock.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lock.mutex.UnlockContext(ctx)
		cancel()
	}

	rm.heldLocks = make(map[string]*redsyncLock)
	return nil
}

func (rl *redsyncLock) Key() string {
	return rl.key
}

// Extend records a new expiry; the renewal goroutine applies it on its next
// cycle.
func (rl *redsyncLock) Extend(ctx context.Context, expiration time.Duration) error {
	rl.expiration = expiration
	return nil
}

func (rl *redsyncLock) Release(ctx context.Context) error {
	rl.manager.releaseLock(rl)
	return nil
}

func (rl *redsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var _ Manager = (*redsyncManager)(nil)
