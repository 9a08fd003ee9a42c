package poller

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/dlib/dlog"
)

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) {
		slept = append(slept, d)
	}
	t.Cleanup(func() { sleep = orig })
	return &slept
}

func TestWithBackoffRetriesThenSucceeds(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	slept := stubSleep(t)

	calls := 0
	fetch := WithBackoff(5, func(ctx context.Context) (Snapshot, error) {
		calls++
		if calls < 3 {
			return Snapshot{}, &BackoffError{
				Snapshot: NewSnapshot(SourceTraefik, nil),
				Err:      errors.New("connection refused"),
			}
		}
		return NewSnapshot(SourceTraefik, []string{"a.example.com"}), nil
	})

	snap, err := fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com"}, snap.Hosts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestWithBackoffExhaustionSurfacesCarriedSnapshot(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	stubSleep(t)

	calls := 0
	fetch := WithBackoff(3, func(ctx context.Context) (Snapshot, error) {
		calls++
		return Snapshot{}, &BackoffError{
			Snapshot: NewSnapshot(SourceTraefik, nil),
			Err:      errors.New("still down"),
		}
	})

	snap, err := fetch(ctx)
	require.NoError(t, err, "exhaustion degrades to the carried snapshot, not a failure")
	assert.Equal(t, SourceTraefik, snap.Source)
	assert.Empty(t, snap.Hosts)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffPassesThroughOtherErrors(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	stubSleep(t)

	boom := errors.New("boom")
	fetch := WithBackoff(5, func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, boom
	})

	_, err := fetch(ctx)
	assert.Equal(t, boom, err)
}

func TestWithBackoffDelayIsCapped(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	slept := stubSleep(t)

	fetch := WithBackoff(8, func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, &BackoffError{Err: errors.New("down")}
	})
	_, err := fetch(ctx)
	require.NoError(t, err)

	require.Len(t, *slept, 7)
	assert.Equal(t, backoffMax, (*slept)[6])
}

func TestWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(dlog.NewTestContext(t, false))

	orig := sleep
	sleep = func(_ context.Context, _ time.Duration) { cancel() }
	t.Cleanup(func() { sleep = orig })

	fetch := WithBackoff(5, func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, &BackoffError{Err: errors.New("down")}
	})
	_, err := fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
