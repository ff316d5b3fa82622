// Package redislock implements tokenledger.Locker with Redis, so only one
// replica runs the expired-hold sweep at a time.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/tokenledger"
)

var _ tokenledger.Locker = (*Locker)(nil)

// ErrLockLost is returned by release when the lock had already expired or
// was taken over.
var ErrLockLost = errors.New("redislock: lock was not held or already expired")

// Locker hands out RedLock mutexes.
type Locker struct {
	rs     *redsync.Redsync
	prefix string
}

// Option configures a Locker.
type Option func(*Locker)

// WithKeyPrefix namespaces every lock key.
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// New creates a Locker over client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{rs: redsync.New(goredis.NewPool(client))}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire makes one attempt at key. A lock held elsewhere fails with an
// error wrapping tokenledger.ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("redislock: lock key cannot be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("redislock: lock ttl must be greater than 0")
	}

	mutex := l.rs.NewMutex(l.prefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, fmt.Errorf("%w: %s", tokenledger.ErrLockHeld, key)
		}
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}

	release := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if isLost(err) {
			return fmt.Errorf("%w: %s", ErrLockLost, key)
		}
		if err != nil {
			return fmt.Errorf("redislock: release %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrLockLost, key)
		}
		return nil
	}
	return release, nil
}

// redsync reports contention as ErrFailed or, in newer releases, as a
// taken error whose message names the lock.
func isContention(err error) bool {
	msg := err.Error()
	return errors.Is(err, redsync.ErrFailed) ||
		strings.Contains(msg, "lock already taken") ||
		strings.Contains(msg, "failed to acquire lock")
}

// isLost reports whether an unlock failed because the key expired or now
// belongs to another owner. redsync wraps both in a multierror.
func isLost(err error) bool {
	if err == nil {
		return false
	}
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.Is(err, redsync.ErrLockAlreadyExpired) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken)
}
