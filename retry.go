package tokenledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StateChanged reports whether the conflicting writer also moved the row to
// another state. Such conflicts are final; a pure version bump is worth a
// retry against a fresh read.
func (e *VersionConflictError) StateChanged() bool {
	return e.ActualState != e.ExpectedState
}

// RetryOnConflict calls fn up to attempts times while it fails with a
// version conflict that left the row's state unchanged. fn must re-read
// whatever it updates on every call. Any other error stops immediately.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		var vc *VersionConflictError
		if errors.As(err, &vc) && !vc.StateChanged() {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	)

	return err
}
