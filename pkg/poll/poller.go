// Package poll provides the Poll Fallback: a timer-driven loop that asks the
// server for events newer than the latest one it has delivered and hands them
// to the feed.
//
// The poller runs regardless of push channel health, because a connected
// channel can still silently drop events.
//
//	p := poll.New(api, merger, poll.Options{Interval: 15 * time.Second})
//	p.Seed(merger.Latest())
//	go p.Start(ctx)
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
	"github.com/storefront/adminsync/pkg/models"
)

// Fetcher returns the events that occurred strictly after since. A zero since
// asks for everything the server still has.
type Fetcher interface {
	FetchSince(ctx context.Context, since time.Time) ([]models.FeedEvent, error)
}

type FetcherFunc func(ctx context.Context, since time.Time) ([]models.FeedEvent, error)

func (f FetcherFunc) FetchSince(ctx context.Context, since time.Time) ([]models.FeedEvent, error) {
	return f(ctx, since)
}

// Sink receives fetched events and reports how many it accepted.
// *feed.Merger is the usual sink.
type Sink interface {
	IngestAll(events []models.FeedEvent) int
}

type Options struct {
	// Interval is the polling frequency. Default: 15s.
	Interval time.Duration
	// Timeout bounds each fetch. Default: 10s.
	Timeout time.Duration
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = constants.DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = constants.DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

type Poller struct {
	fetcher Fetcher
	sink    Sink
	opts    Options

	mu    sync.Mutex
	since time.Time

	trigger chan struct{}

	ticks     atomic.Int64
	errors    atomic.Int64
	fetched   atomic.Int64
	delivered atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Ticks     int64     `json:"ticks"`
	Errors    int64     `json:"errors"`
	Fetched   int64     `json:"fetched"`
	Delivered int64     `json:"delivered"`
	Since     time.Time `json:"since"`
}

func New(fetcher Fetcher, sink Sink, opts Options) *Poller {
	opts.defaults()
	return &Poller{
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

func (p *Poller) Stats() Stats {
	return Stats{
		Ticks:     p.ticks.Load(),
		Errors:    p.errors.Load(),
		Fetched:   p.fetched.Load(),
		Delivered: p.delivered.Load(),
		Since:     p.Since(),
	}
}

// Since returns the watermark: the newest occurredAt delivered so far.
func (p *Poller) Since() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.since
}

// Seed moves the watermark forward to t, typically to the newest event of an
// initial history load. It never moves the watermark back.
func (p *Poller) Seed(t time.Time) {
	p.mu.Lock()
	if t.After(p.since) {
		p.since = t
	}
	p.mu.Unlock()
}

// Trigger asks the running loop for an immediate tick. Requests made while
// one is already pending are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start blocks until ctx is cancelled, ticking at opts.Interval. A failed
// tick is logged and retried on the next one.
func (p *Poller) Start(ctx context.Context) error {
	log := p.opts.Logger

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	log.Info("poll.Poller started", "interval", p.opts.Interval.String())

	for {
		select {
		case <-ctx.Done():
			log.Info("poll.Poller stopped")
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
		_, _ = p.Tick(ctx)
	}
}

// Tick fetches events newer than the watermark, delivers them to the sink and
// advances the watermark. It returns the number of events the sink accepted.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	p.ticks.Add(1)
	since := p.Since()

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	events, err := p.fetcher.FetchSince(fetchCtx, since)
	cancel()
	if err != nil {
		p.errors.Add(1)
		p.opts.Metrics.PollTick(false)
		if ctx.Err() == nil {
			p.opts.Logger.Warn("poll.Poller fetch failed", "since", since, "error", err)
		}
		return 0, err
	}
	p.opts.Metrics.PollTick(true)
	p.fetched.Add(int64(len(events)))

	if len(events) == 0 {
		return 0, nil
	}

	latest := since
	for _, ev := range events {
		if ev.OccurredAt.After(latest) {
			latest = ev.OccurredAt
		}
	}

	accepted := p.sink.IngestAll(events)
	p.delivered.Add(int64(accepted))
	p.Seed(latest)

	p.opts.Logger.Debug("poll.Poller tick",
		"fetched", len(events),
		"accepted", accepted,
		"since", latest,
	)
	return accepted, nil
}
