// Package poller discovers hostnames from live sources and fans the
// snapshots out to subscribers.
//
// A Fetcher produces a full snapshot of the hostnames its source currently
// serves. The Poller wraps a Fetcher with a timer loop and a set of
// subscribers, each holding a one-deep queue. Snapshots are full-state, so a
// slow subscriber simply observes the newest one; intermediate snapshots are
// dropped.
package poller

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"
)

// Source identifies which poller produced a snapshot.
type Source string

const (
	SourceDocker  Source = "docker"
	SourceTraefik Source = "traefik"
	SourceManual  Source = "manual"
)

// Sources lists every distinct source. The sync queue's capacity is its
// length; the queue is shared, so a single producer can fill every slot.
var Sources = []Source{SourceDocker, SourceTraefik, SourceManual}

// Rank orders sources by priority. A hostname synced from a lower rank is
// never overwritten by a higher one.
func (s Source) Rank() int {
	switch s {
	case SourceDocker:
		return 1
	case SourceTraefik:
		return 2
	case SourceManual:
		return 3
	}
	return math.MaxInt32
}

// Snapshot is the complete set of hostnames observed by one source at one
// tick. The same hostname may appear in successive snapshots.
type Snapshot struct {
	Time   time.Time
	Source Source
	Hosts  []string
}

// Fetcher takes one snapshot of its source.
type Fetcher interface {
	Source() Source
	Interval() time.Duration
	Fetch(ctx context.Context) (Snapshot, error)
}

// SubscriberFunc receives snapshots during Emit.
type SubscriberFunc func(ctx context.Context, snap Snapshot) error

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	fn    SubscriberFunc
	queue chan Snapshot
}

// put enqueues with drop-oldest semantics; a newer full-state snapshot
// supersedes the one the subscriber has not consumed yet.
func (s *Subscription) put(snap Snapshot) {
	for {
		select {
		case s.queue <- snap:
			return
		default:
			select {
			case <-s.queue:
			default:
			}
		}
	}
}

type Poller struct {
	fetcher Fetcher

	mu   sync.Mutex
	subs []*Subscription
}

func New(fetcher Fetcher) *Poller {
	return &Poller{fetcher: fetcher}
}

func (p *Poller) Source() Source {
	return p.fetcher.Source()
}

func (p *Poller) Subscribe(fn SubscriberFunc) *Subscription {
	sub := &Subscription{fn: fn, queue: make(chan Snapshot, 1)}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

func (p *Poller) Unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *Poller) subscriptions() []*Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]*Subscription, len(p.subs))
	copy(subs, p.subs)
	return subs
}

// Publish enqueues the snapshot to every subscriber queue.
func (p *Poller) Publish(snap Snapshot) {
	for _, sub := range p.subscriptions() {
		sub.put(snap)
	}
}

// Emit drains each subscriber queue in order, invoking the subscriber with
// every queued snapshot. Subscriber errors are logged, not propagated; a
// failing consumer must not stop the poll loop.
func (p *Poller) Emit(ctx context.Context) {
	for _, sub := range p.subscriptions() {
	drain:
		for {
			select {
			case snap := <-sub.queue:
				if err := sub.fn(ctx, snap); err != nil {
					dlog.Errorf(ctx, "%s poller: subscriber failed: %v", p.Source(), err)
				}
			default:
				break drain
			}
		}
	}
}

// Run polls at the fetcher's interval until the context is done. The first
// fetch happens immediately so subscribers see the initial state without
// waiting out a full interval. A failed tick is logged and the loop goes on.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.fetcher.Interval()
	dlog.Infof(ctx, "Starting %s poller: polling every %s", p.Source(), interval)
	p.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			dlog.Infof(ctx, "%s polling cancelled, cleaning up", p.Source())
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	fetchesTotal.WithLabelValues(string(p.Source())).Inc()
	snap, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fetchErrorsTotal.WithLabelValues(string(p.Source())).Inc()
		dlog.Errorf(ctx, "%s poller: fetch failed: %v", p.Source(), err)
		return
	}
	p.Publish(snap)
	p.Emit(ctx)
}

// NewSnapshot stamps a snapshot with the current (injectable) clock.
func NewSnapshot(source Source, hosts []string) Snapshot {
	return Snapshot{Time: dtime.Now(), Source: source, Hosts: hosts}
}
