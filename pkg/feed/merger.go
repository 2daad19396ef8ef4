// Package feed merges activity events delivered by the push channel and the
// poll fallback into one ordered, duplicate-free sequence.
//
// Typical usage:
//
//	m := feed.New(feed.Options{Limit: 200})
//	m.Subscribe(render)
//	m.Ingest(ev) // from either source
package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
	"github.com/storefront/adminsync/pkg/models"
)

const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultExpired   = "expired"
)

type Options struct {
	// Limit caps the number of retained events; the oldest are pruned first.
	// Default: 200. Negative disables pruning.
	Limit int
	// Resolution is the granularity occurredAt is truncated to when two
	// events are compared without ids. Default: 1s.
	Resolution time.Duration
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

func (o *Options) defaults() {
	if o.Limit == 0 {
		o.Limit = constants.DefaultFeedLimit
	}
	if o.Resolution <= 0 {
		o.Resolution = constants.DefaultDedupResolution
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

// Merger owns the merged sequence. It is safe for concurrent use; callbacks
// run outside its lock, in ingest order.
type Merger struct {
	opts Options

	mu     sync.Mutex
	events []models.FeedEvent
	index  *identities

	// floor is the occurredAt of the newest pruned event. Older arrivals are
	// refused, and arrivals in the floor's bucket are checked against pruned.
	floor  time.Time
	pruned *identities

	// emitMu serializes callbacks so subscribers observe ingests in order.
	emitMu   sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func([]models.FeedEvent)
	watchers map[int]func(models.FeedEvent)
	nextSub  int
}

func New(opts Options) *Merger {
	opts.defaults()
	return &Merger{
		opts:     opts,
		index:    newIdentities(opts.Resolution),
		pruned:   newIdentities(opts.Resolution),
		subs:     make(map[int]func([]models.FeedEvent)),
		watchers: make(map[int]func(models.FeedEvent)),
	}
}

// Ingest adds ev unless an event with the same identity was seen first.
// It reports whether ev was accepted.
func (m *Merger) Ingest(ev models.FeedEvent) bool {
	return m.IngestAll([]models.FeedEvent{ev}) == 1
}

// IngestAll ingests a batch and notifies subscribers once. It returns the
// number of accepted events.
func (m *Merger) IngestAll(batch []models.FeedEvent) int {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	accepted := make([]models.FeedEvent, 0, len(batch))
	for _, ev := range batch {
		result := m.ingestLocked(ev)
		m.opts.Metrics.FeedEvent(string(ev.Source), result)
		if result != resultAccepted {
			m.opts.Logger.Debug("feed.Merger dropped event",
				"source", string(ev.Source),
				"id", ev.ID,
				"message", ev.Message,
				"result", result,
			)
			continue
		}
		accepted = append(accepted, ev)
	}
	var snapshot []models.FeedEvent
	if len(accepted) > 0 {
		snapshot = m.snapshotLocked()
	}
	m.opts.Metrics.FeedSize(len(m.events))
	m.mu.Unlock()

	if len(accepted) == 0 {
		return 0
	}

	m.subsMu.Lock()
	perEvent := make([]func(models.FeedEvent), 0, len(m.watchers))
	for _, fn := range m.watchers {
		perEvent = append(perEvent, fn)
	}
	perChange := make([]func([]models.FeedEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		perChange = append(perChange, fn)
	}
	m.subsMu.Unlock()

	for _, ev := range accepted {
		for _, fn := range perEvent {
			fn(ev)
		}
	}
	for _, fn := range perChange {
		fn(snapshot)
	}
	return len(accepted)
}

func (m *Merger) ingestLocked(ev models.FeedEvent) string {
	if !m.floor.IsZero() {
		if ev.OccurredAt.Before(m.floor) {
			return resultExpired
		}
		floorBucket := m.floor.Truncate(m.opts.Resolution)
		if !ev.OccurredAt.Truncate(m.opts.Resolution).After(floorBucket) && m.pruned.seen(ev) {
			return resultDuplicate
		}
	}
	if m.index.seen(ev) {
		return resultDuplicate
	}
	if m.opts.Limit > 0 && len(m.events) >= m.opts.Limit && ev.OccurredAt.Before(m.events[0].OccurredAt) {
		// It would be pruned straight away.
		return resultExpired
	}

	// Upper bound keeps arrival order among equal timestamps.
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].OccurredAt.After(ev.OccurredAt)
	})
	m.events = append(m.events, models.FeedEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = ev
	m.index.add(ev)

	m.pruneLocked()
	return resultAccepted
}

func (m *Merger) pruneLocked() {
	if m.opts.Limit <= 0 {
		return
	}
	for len(m.events) > m.opts.Limit {
		oldest := m.events[0]
		m.events = m.events[1:]
		m.index.remove(oldest)

		if !oldest.OccurredAt.Equal(m.floor) {
			m.pruned.reset()
			m.floor = oldest.OccurredAt
		}
		m.pruned.add(oldest)
	}
}

func (m *Merger) snapshotLocked() []models.FeedEvent {
	out := make([]models.FeedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Snapshot returns the merged sequence, oldest first.
func (m *Merger) Snapshot() []models.FeedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked()
}

func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.events)
}

// Latest returns the newest retained occurredAt, or the zero time.
func (m *Merger) Latest() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) == 0 {
		return time.Time{}
	}
	return m.events[len(m.events)-1].OccurredAt
}

// Subscribe registers fn to receive the full sequence after every change.
func (m *Merger) Subscribe(fn func([]models.FeedEvent)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return m.unsubscriber(id)
}

// OnEvent registers fn to receive each accepted event once.
func (m *Merger) OnEvent(fn func(models.FeedEvent)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.watchers[id] = fn
	m.subsMu.Unlock()

	return m.unsubscriber(id)
}

func (m *Merger) unsubscriber(id int) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			delete(m.watchers, id)
			m.subsMu.Unlock()
		})
	}
}
