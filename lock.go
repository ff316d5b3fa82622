package tokenledger

import (
	"context"
	"errors"
	"time"
)

// Locker hands out named, expiring, cross-process locks. Acquire fails
// with an error wrapping ErrLockHeld when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

func isLockHeld(err error) bool {
	return errors.Is(err, ErrLockHeld)
}
