package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/poller"
)

type fakeReconciler struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeReconciler) SyncHost(_ context.Context, host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, host)
	return !f.fail[host]
}

func (f *fakeReconciler) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func job(source poller.Source, hosts ...string) Job {
	return Job{Timestamp: time.Now(), Source: source, Hosts: hosts}
}

func TestSyncRecordsRankOnSuccess(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	rec := &fakeReconciler{}
	m := NewManager(rec)

	m.sync(ctx, job(poller.SourceTraefik, "a.example.com"))

	rank, ok := m.SyncedRank("a.example.com")
	require.True(t, ok)
	assert.Equal(t, poller.SourceTraefik.Rank(), rank)
	assert.Equal(t, []string{"a.example.com"}, rec.callLog())
}

func TestSyncIdenticalSnapshotIsNoOp(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	rec := &fakeReconciler{}
	m := NewManager(rec)

	m.sync(ctx, job(poller.SourceDocker, "a.example.com", "b.example.com"))
	m.sync(ctx, job(poller.SourceDocker, "a.example.com", "b.example.com"))

	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rec.callLog())
}

func TestSyncLowerRankSupersedes(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	rec := &fakeReconciler{}
	m := NewManager(rec)

	m.sync(ctx, job(poller.SourceTraefik, "a.example.com"))
	m.sync(ctx, job(poller.SourceDocker, "a.example.com"))

	rank, _ := m.SyncedRank("a.example.com")
	assert.Equal(t, poller.SourceDocker.Rank(), rank)
	assert.Len(t, rec.callLog(), 2)
}

func TestSyncHigherOrEqualRankIsIgnored(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	rec := &fakeReconciler{}
	m := NewManager(rec)

	m.sync(ctx, job(poller.SourceDocker, "a.example.com"))
	m.sync(ctx, job(poller.SourceTraefik, "a.example.com"))
	m.sync(ctx, job(poller.SourceManual, "a.example.com"))

	rank, _ := m.SyncedRank("a.example.com")
	assert.Equal(t, poller.SourceDocker.Rank(), rank, "rank only ever decreases")
	assert.Len(t, rec.callLog(), 1)
}

func TestSyncFailureDoesNotRecordRank(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	rec := &fakeReconciler{fail: map[string]bool{"bad.example.com": true}}
	m := NewManager(rec)

	m.sync(ctx, job(poller.SourceDocker, "bad.example.com", "good.example.com"))

	_, ok := m.SyncedRank("bad.example.com")
	assert.False(t, ok, "a failed hostname stays eligible for the next snapshot")
	_, ok = m.SyncedRank("good.example.com")
	assert.True(t, ok)

	// The next snapshot retries the failed hostname.
	rec.fail = nil
	m.sync(ctx, job(poller.SourceDocker, "bad.example.com", "good.example.com"))
	assert.Equal(t, []string{"bad.example.com", "good.example.com", "bad.example.com"}, rec.callLog())
}

func TestOnSnapshotDropsOldestOnOverflow(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	m := NewManager(&fakeReconciler{})

	capacity := len(poller.Sources)
	for i := 0; i <= capacity; i++ {
		snap := poller.NewSnapshot(poller.SourceDocker, []string{string(rune('a'+i)) + ".example.com"})
		require.NoError(t, m.OnSnapshot(ctx, snap))
	}

	require.Len(t, m.jobs, capacity)
	first := <-m.jobs
	assert.Equal(t, []string{"b.example.com"}, first.Hosts, "the oldest job was dropped")
}

func TestRunConsumesQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(dlog.NewTestContext(t, false), 200*time.Millisecond)
	defer cancel()

	rec := &fakeReconciler{}
	m := NewManager(rec)
	require.NoError(t, m.OnSnapshot(ctx, poller.NewSnapshot(poller.SourceDocker, []string{"a.example.com"})))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, ok := m.SyncedRank("a.example.com")
		return ok
	}, 150*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
