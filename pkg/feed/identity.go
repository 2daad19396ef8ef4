package feed

import (
	"time"

	"github.com/storefront/adminsync/pkg/models"
)

// tuple is the id-less dedup key of an event.
type tuple struct {
	message  string
	category string
	at       int64
}

func tupleOf(ev models.FeedEvent, resolution time.Duration) tuple {
	at := ev.OccurredAt
	if resolution > 0 {
		at = at.Truncate(resolution)
	}
	return tuple{message: ev.Message, category: ev.Category, at: at.UnixNano()}
}

// tupleCount tracks how many retained events share a tuple and how many of
// those carry no id.
type tupleCount struct {
	total     int
	anonymous int
}

// identities indexes retained events by the dedup rule: two events are the
// same when both carry an id and the ids match, or when at least one of them
// has no id and their tuples match.
type identities struct {
	resolution time.Duration
	ids        map[string]struct{}
	tuples     map[tuple]*tupleCount
}

func newIdentities(resolution time.Duration) *identities {
	return &identities{
		resolution: resolution,
		ids:        make(map[string]struct{}),
		tuples:     make(map[tuple]*tupleCount),
	}
}

func (x *identities) seen(ev models.FeedEvent) bool {
	count := x.tuples[tupleOf(ev, x.resolution)]
	if ev.ID == "" {
		return count != nil && count.total > 0
	}
	if _, ok := x.ids[ev.ID]; ok {
		return true
	}
	return count != nil && count.anonymous > 0
}

func (x *identities) add(ev models.FeedEvent) {
	key := tupleOf(ev, x.resolution)
	count := x.tuples[key]
	if count == nil {
		count = &tupleCount{}
		x.tuples[key] = count
	}
	count.total++
	if ev.ID == "" {
		count.anonymous++
	} else {
		x.ids[ev.ID] = struct{}{}
	}
}

func (x *identities) remove(ev models.FeedEvent) {
	key := tupleOf(ev, x.resolution)
	if count := x.tuples[key]; count != nil {
		count.total--
		if ev.ID == "" {
			count.anonymous--
		}
		if count.total <= 0 {
			delete(x.tuples, key)
		}
	}
	if ev.ID != "" {
		delete(x.ids, ev.ID)
	}
}

func (x *identities) reset() {
	clear(x.ids)
	clear(x.tuples)
}
