package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/adminsync/pkg/feed"
	"github.com/storefront/adminsync/pkg/models"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// server keeps an activity log and answers FetchSince like the latest-logs
// endpoint does.
type server struct {
	mu     sync.Mutex
	logs   []models.FeedEvent
	asked  []time.Time
	failed bool
}

func (s *server) add(id, message string, offset time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, models.FeedEvent{
		Source:     models.SourcePoll,
		ID:         id,
		Message:    message,
		Category:   "info",
		OccurredAt: t0.Add(offset),
	})
}

func (s *server) FetchSince(_ context.Context, since time.Time) ([]models.FeedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, since)
	if s.failed {
		return nil, errors.New("503 service unavailable")
	}
	var out []models.FeedEvent
	for _, ev := range s.logs {
		if ev.OccurredAt.After(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *server) requests() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.asked...)
}

func TestTickAdvancesWatermark(t *testing.T) {
	srv := &server{}
	srv.add("l1", "first", time.Second)
	srv.add("l2", "second", 2*time.Second)

	m := feed.New(feed.Options{})
	p := New(srv, m, Options{})
	ctx := context.Background()

	n, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, t0.Add(2*time.Second), p.Since())

	srv.add("l3", "third", 3*time.Second)
	n, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	asked := srv.requests()
	require.Len(t, asked, 2)
	assert.True(t, asked[0].IsZero())
	assert.Equal(t, t0.Add(2*time.Second), asked[1], "only events newer than the last delivered one are requested")
	assert.Equal(t, 3, m.Len())
}

func TestSeedSkipsKnownHistory(t *testing.T) {
	srv := &server{}
	srv.add("l1", "old", time.Second)
	srv.add("l2", "new", 5*time.Second)

	m := feed.New(feed.Options{})
	p := New(srv, m, Options{})
	p.Seed(t0.Add(2 * time.Second))
	p.Seed(t0) // never moves back

	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, "new", m.Snapshot()[0].Message)
}

func TestFailedTickKeepsWatermark(t *testing.T) {
	srv := &server{failed: true}
	m := feed.New(feed.Options{})
	p := New(srv, m, Options{})
	p.Seed(t0)

	_, err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, t0, p.Since())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestPushedEventsAreNotDeliveredTwice(t *testing.T) {
	srv := &server{}
	srv.add("l1", "Order placed", time.Second)

	m := feed.New(feed.Options{})
	m.Ingest(models.FeedEvent{Source: models.SourcePush, ID: "l1", Message: "Order placed", OccurredAt: t0.Add(time.Second)})

	p := New(srv, m, Options{})
	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, t0.Add(time.Second), p.Since())
}

func TestStartTicksUntilCancelled(t *testing.T) {
	srv := &server{}
	srv.add("l1", "hello", time.Second)

	m := feed.New(feed.Options{})
	p := New(srv, m, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)
	srv.add("l2", "world", 2*time.Second)
	require.Eventually(t, func() bool { return m.Len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestTriggerTicksImmediately(t *testing.T) {
	srv := &server{}
	srv.add("l1", "hello", time.Second)

	m := feed.New(feed.Options{})
	p := New(srv, m, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Start(ctx) }()

	p.Trigger()
	p.Trigger()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFetcherFunc(t *testing.T) {
	var got time.Time
	f := FetcherFunc(func(_ context.Context, since time.Time) ([]models.FeedEvent, error) {
		got = since
		return nil, nil
	})

	p := New(f, feed.New(feed.Options{}), Options{})
	p.Seed(t0)
	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, t0, got)
}
