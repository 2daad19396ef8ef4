package feed

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/adminsync/pkg/models"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func push(id, message string, when time.Time) models.FeedEvent {
	return models.FeedEvent{Source: models.SourcePush, ID: id, Message: message, Category: "order", OccurredAt: when}
}

func poll(id, message string, when time.Time) models.FeedEvent {
	return models.FeedEvent{Source: models.SourcePoll, ID: id, Message: message, Category: "order", OccurredAt: when}
}

func messages(events []models.FeedEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Message)
	}
	return out
}

func assertOrdered(t *testing.T, events []models.FeedEvent) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].OccurredAt.Before(events[i-1].OccurredAt),
			"event %d (%s) is older than event %d (%s)", i, events[i].OccurredAt, i-1, events[i-1].OccurredAt)
	}
}

func TestSameEventFromBothChannelsIsKeptOnce(t *testing.T) {
	m := New(Options{})
	before := m.Len()

	require.True(t, m.Ingest(push("e1", "Order placed", at(0))))
	assert.False(t, m.Ingest(poll("e1", "Order placed", at(0))))

	assert.Equal(t, before+1, m.Len())
}

func TestIngestOrdersByOccurredAt(t *testing.T) {
	m := New(Options{})

	m.Ingest(poll("", "third", at(3*time.Second)))
	m.Ingest(poll("", "first", at(time.Second)))
	// A late push with an earlier timestamp lands in its historical slot.
	m.Ingest(push("", "second", at(2*time.Second)))
	m.Ingest(push("", "second-tie", at(2*time.Second)))

	got := m.Snapshot()
	assertOrdered(t, got)
	assert.Equal(t, []string{"first", "second", "second-tie", "third"}, messages(got))
	assert.Equal(t, at(3*time.Second), m.Latest())
}

func TestDedupIdentity(t *testing.T) {
	testCases := []struct {
		name   string
		first  models.FeedEvent
		second models.FeedEvent
		dup    bool
	}{
		{
			name:   "same id, different content",
			first:  push("e1", "Order placed", at(0)),
			second: poll("e1", "Order #1 placed", at(5*time.Second)),
			dup:    true,
		},
		{
			name:   "no ids, same tuple within resolution",
			first:  push("", "User registered", at(300*time.Millisecond)),
			second: poll("", "User registered", at(700*time.Millisecond)),
			dup:    true,
		},
		{
			name:   "no ids, different second",
			first:  push("", "User registered", at(300*time.Millisecond)),
			second: poll("", "User registered", at(1300*time.Millisecond)),
			dup:    false,
		},
		{
			name:   "no ids, different category",
			first:  push("", "Stock low", at(0)),
			second: models.FeedEvent{Source: models.SourcePoll, Message: "Stock low", Category: "product", OccurredAt: at(0)},
			dup:    false,
		},
		{
			name:   "one id missing falls back to tuple",
			first:  push("e7", "Coupon created", at(0)),
			second: poll("", "Coupon created", at(0)),
			dup:    true,
		},
		{
			name:   "anonymous first, id second",
			first:  poll("", "Coupon created", at(0)),
			second: push("e7", "Coupon created", at(0)),
			dup:    true,
		},
		{
			name:   "different ids, same tuple",
			first:  push("e1", "Order placed", at(0)),
			second: poll("e2", "Order placed", at(0)),
			dup:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(Options{})
			require.True(t, m.Ingest(tc.first))
			assert.Equal(t, !tc.dup, m.Ingest(tc.second))
		})
	}
}

func TestFirstSeenWins(t *testing.T) {
	m := New(Options{})

	m.Ingest(poll("e1", "from poll", at(0)))
	m.Ingest(push("e1", "from push", at(0)))

	got := m.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "from poll", got[0].Message)
	assert.Equal(t, models.SourcePoll, got[0].Source)
}

func TestRetentionLimit(t *testing.T) {
	m := New(Options{Limit: 3})

	for i := range 4 {
		m.Ingest(push(fmt.Sprintf("e%d", i), fmt.Sprintf("event %d", i), at(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, []string{"event 1", "event 2", "event 3"}, messages(m.Snapshot()))

	t.Run("pruned event does not come back", func(t *testing.T) {
		assert.False(t, m.Ingest(poll("e0", "event 0", at(0))))
		assert.Equal(t, 3, m.Len())
	})

	t.Run("older than everything retained", func(t *testing.T) {
		assert.False(t, m.Ingest(poll("e9", "late", at(500*time.Millisecond))))
	})

	t.Run("newer event prunes oldest", func(t *testing.T) {
		require.True(t, m.Ingest(poll("e4", "event 4", at(4*time.Second))))
		assert.Equal(t, []string{"event 2", "event 3", "event 4"}, messages(m.Snapshot()))

		// The pruned identity is gone from the live index; the floor keeps it out.
		assert.False(t, m.Ingest(poll("e1", "event 1", at(time.Second))))
	})
}

func TestNegativeLimitKeepsEverything(t *testing.T) {
	m := New(Options{Limit: -1})
	for i := range 500 {
		m.Ingest(poll(fmt.Sprintf("e%d", i), "x", at(time.Duration(i)*time.Millisecond)))
	}
	assert.Equal(t, 500, m.Len())
}

func TestSubscribers(t *testing.T) {
	m := New(Options{})

	var (
		changes  [][]string
		accepted []string
	)
	unsubscribe := m.Subscribe(func(events []models.FeedEvent) {
		changes = append(changes, messages(events))
	})
	m.OnEvent(func(ev models.FeedEvent) {
		accepted = append(accepted, ev.ID)
	})

	n := m.IngestAll([]models.FeedEvent{
		poll("e2", "b", at(2*time.Second)),
		poll("e1", "a", at(time.Second)),
		poll("e2", "b", at(2*time.Second)),
	})
	assert.Equal(t, 2, n)
	require.Len(t, changes, 1, "a batch notifies once")
	assert.Equal(t, []string{"a", "b"}, changes[0])
	assert.Equal(t, []string{"e2", "e1"}, accepted)

	m.Ingest(push("e1", "a", at(time.Second)))
	assert.Len(t, changes, 1, "duplicates do not notify")
	assert.Len(t, accepted, 2)

	unsubscribe()
	m.Ingest(push("e3", "c", at(3*time.Second)))
	assert.Len(t, changes, 1)
	assert.Equal(t, []string{"e2", "e1", "e3"}, accepted)
}

func TestArbitraryArrivalOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	var logical []models.FeedEvent
	for i := range 60 {
		id := ""
		if i%3 != 0 {
			id = fmt.Sprintf("e%d", i)
		}
		logical = append(logical, models.FeedEvent{
			ID:         id,
			Message:    fmt.Sprintf("event %d", i),
			Category:   "log",
			OccurredAt: at(time.Duration(rng.IntN(30)) * time.Second),
		})
	}

	// Every logical event is delivered by both channels, in random order.
	var deliveries []models.FeedEvent
	for _, ev := range logical {
		p, q := ev, ev
		p.Source = models.SourcePush
		q.Source = models.SourcePoll
		deliveries = append(deliveries, p, q)
	}
	rng.Shuffle(len(deliveries), func(i, j int) {
		deliveries[i], deliveries[j] = deliveries[j], deliveries[i]
	})

	m := New(Options{Limit: -1})
	for _, ev := range deliveries {
		m.Ingest(ev)
	}

	got := m.Snapshot()
	assert.Len(t, got, len(logical))
	assertOrdered(t, got)

	seen := make(map[string]bool)
	for _, ev := range got {
		assert.False(t, seen[ev.Message], "duplicate %q", ev.Message)
		seen[ev.Message] = true
	}
}
