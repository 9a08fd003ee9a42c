// Package syncer consumes hostname snapshots and decides which hostnames
// need reconciling against the DNS provider.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/poller"
)

// Reconciler makes one hostname point at its target in every eligible zone.
// It reports true only when every (hostname, zone) pair succeeded.
type Reconciler interface {
	SyncHost(ctx context.Context, host string) bool
}

// Job is one queued batch of hostnames from a single source.
type Job struct {
	ID        uuid.UUID
	Timestamp time.Time
	Source    poller.Source
	Hosts     []string
}

// Manager is the single consumer of the bounded job queue. It owns the
// synced map; nothing else touches it.
type Manager struct {
	jobs       chan Job
	reconciler Reconciler

	mu     sync.Mutex
	synced map[string]int
}

func NewManager(reconciler Reconciler) *Manager {
	return &Manager{
		jobs:       make(chan Job, len(poller.Sources)),
		reconciler: reconciler,
		synced:     make(map[string]int),
	}
}

// OnSnapshot is the subscriber callback registered with each poller. It
// enqueues with drop-oldest semantics: snapshots are full-state, so when the
// queue is full the newest one supersedes the oldest unconsumed job.
func (m *Manager) OnSnapshot(ctx context.Context, snap poller.Snapshot) error {
	job := Job{
		ID:        uuid.New(),
		Timestamp: snap.Time,
		Source:    snap.Source,
		Hosts:     snap.Hosts,
	}
	for {
		select {
		case m.jobs <- job:
			return nil
		default:
			select {
			case dropped := <-m.jobs:
				jobsDroppedTotal.Inc()
				dlog.Debugf(ctx, "sync queue full, dropping job %s from %s", dropped.ID, dropped.Source)
			default:
			}
		}
	}
}

// Run consumes jobs until the context is done.
func (m *Manager) Run(ctx context.Context) error {
	dlog.Info(ctx, "Starting sync manager")
	for {
		select {
		case <-ctx.Done():
			dlog.Info(ctx, "Sync manager stopped")
			return nil
		case job := <-m.jobs:
			m.sync(ctx, job)
		}
	}
}

// sync walks one job. A hostname is handed to the reconciler only when it was
// never synced before or the incoming source outranks the recorded one; the
// rank is recorded only on success, so a failed hostname is retried on the
// next snapshot. Replaying an identical snapshot is a no-op.
func (m *Manager) sync(ctx context.Context, job Job) {
	jobsTotal.WithLabelValues(string(job.Source)).Inc()
	rank := job.Source.Rank()
	for _, host := range job.Hosts {
		if ctx.Err() != nil {
			return
		}
		current, exists := m.rank(host)
		if exists && current <= rank {
			continue
		}
		dlog.Debugf(ctx, "job %s: syncing %s (source %s)", job.ID, host, job.Source)
		if m.reconciler.SyncHost(ctx, host) {
			m.setRank(host, rank)
		} else {
			syncFailuresTotal.Inc()
			dlog.Warnf(ctx, "job %s: sync of %s failed, will retry on next snapshot", job.ID, host)
		}
	}
}

func (m *Manager) rank(host string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.synced[host]
	return r, ok
}

func (m *Manager) setRank(host string, rank int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced[host] = rank
}

// SyncedRank reports the rank a hostname was last synced at.
func (m *Manager) SyncedRank(host string) (int, bool) {
	return m.rank(host)
}

// SyncedCount reports how many hostnames have been synced so far.
func (m *Manager) SyncedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.synced)
}
