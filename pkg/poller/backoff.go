package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"
)

const (
	backoffInitial = time.Second
	backoffMax     = 32 * time.Second

	// DefaultBackoffAttempts is how many times a retryable fetch is tried
	// before its fallback snapshot is surfaced instead.
	DefaultBackoffAttempts = 5
)

// sleep is swapped out by tests.
var sleep = dtime.SleepWithContext

// BackoffError marks a fetch failure as retryable. It carries the snapshot to
// surface (normally an empty one for the same source) should the retries
// exhaust.
type BackoffError struct {
	Snapshot Snapshot
	Err      error
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("retryable fetch failure: %v", e.Err)
}

func (e *BackoffError) Unwrap() error {
	return e.Err
}

// WithBackoff wraps fetch so that a BackoffError is retried with exponential
// delay, starting at one second and doubling up to a cap. After attempts
// tries the error's carried snapshot is returned with a nil error, so a bad
// stretch degrades to an empty observation rather than killing the poll loop.
// Any other error passes through untouched.
func WithBackoff(attempts int, fetch func(context.Context) (Snapshot, error)) func(context.Context) (Snapshot, error) {
	if attempts < 1 {
		attempts = DefaultBackoffAttempts
	}
	return func(ctx context.Context) (Snapshot, error) {
		delay := backoffInitial
		for attempt := 1; ; attempt++ {
			snap, err := fetch(ctx)
			if err == nil {
				return snap, nil
			}
			var be *BackoffError
			if !errors.As(err, &be) {
				return snap, err
			}
			if attempt >= attempts {
				dlog.Warnf(ctx, "giving up after %d attempts: %v", attempt, be.Err)
				return be.Snapshot, nil
			}
			dlog.Warnf(ctx, "fetch failed, retrying in %s: %v", delay, be.Err)
			sleep(ctx, delay)
			if ctx.Err() != nil {
				return Snapshot{}, ctx.Err()
			}
			if delay *= 2; delay > backoffMax {
				delay = backoffMax
			}
		}
	}
}
