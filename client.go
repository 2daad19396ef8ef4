package adminsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storefront/adminsync/httpclient"
	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/connection/gorillaws"
	"github.com/storefront/adminsync/pkg/connection/rews"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/feed"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
	"github.com/storefront/adminsync/pkg/models"
	"github.com/storefront/adminsync/pkg/poll"
)

// Client wires the synchronization core for one admin backend: the REST
// client, the activity feed fed by both the event channel and the poll
// fallback, and the collections built on top of it with NewCollection.
type Client struct {
	conf    *Config
	api     *httpclient.Client
	feed    *feed.Merger
	poller  *poll.Poller
	channel *rews.Supervisor[*gorillaws.Connection]
	logger  logger.Logger
	metrics *metrics.Metrics

	// Now stamps pushed events whose payload carries no time.
	Now func() time.Time

	mu            sync.RWMutex
	frameHandlers map[string]map[int]connection.FrameHandler
	nextHandlerID int

	running atomic.Bool
}

// New validates conf and builds a Client. Nothing is dialed until Run.
func New(conf *Config) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	eventsURL, err := conf.eventsURL()
	if err != nil {
		return nil, err
	}

	log := conf.Logger
	if log == nil {
		log = logger.Nop()
	}

	api, err := httpclient.New(conf.BaseURL, conf.Token)
	if err != nil {
		return nil, err
	}
	api.SetTimeout(conf.RequestTimeout.Duration).SetLogger(log)

	c := &Client{
		conf:          conf,
		api:           api,
		logger:        log,
		metrics:       conf.Metrics,
		Now:           time.Now,
		frameHandlers: make(map[string]map[int]connection.FrameHandler),
	}

	c.feed = feed.New(feed.Options{
		Limit:      conf.Feed.Limit,
		Resolution: conf.Feed.Resolution.Duration,
		Logger:     log,
		Metrics:    conf.Metrics,
	})

	c.poller = poll.New(api, c.feed, poll.Options{
		Interval: conf.Poll.Interval.Duration,
		Timeout:  conf.RequestTimeout.Duration,
		Logger:   log,
		Metrics:  conf.Metrics,
	})

	c.channel = rews.New(func(context.Context) (*gorillaws.Connection, error) {
		connConf := connection.NewConfig(eventsURL)
		connConf.Encoding = conf.Encoding
		connConf.Logger = log
		connConf.OnFrame = c.handleFrame
		if conf.Token != "" {
			connConf.Header.Set("Authorization", "Bearer "+conf.Token)
		}
		return gorillaws.New(connConf)
	}, log)
	c.channel.Metrics = conf.Metrics
	if conf.Reconnect.Backoff {
		retryer := rews.NewExponentialBackoffRetryer(conf.Reconnect.Attempts)
		if conf.Reconnect.Delay.Duration > 0 {
			retryer.InitialDelay = conf.Reconnect.Delay.Duration
		}
		c.channel.Retryer = retryer
	} else {
		c.channel.Retryer = rews.NewFixedDelayRetryer(conf.Reconnect.Delay.Duration, conf.Reconnect.Attempts)
	}

	// Catch up on anything the channel missed while it was down.
	c.channel.OnStateChange(func(_, to rews.State) {
		if to == rews.StateConnected {
			c.poller.Trigger()
		}
	})

	return c, nil
}

// API returns the REST client.
func (c *Client) API() *httpclient.Client {
	return c.api
}

// Feed returns the merged activity feed.
func (c *Client) Feed() *feed.Merger {
	return c.feed
}

// Poller returns the activity log poll fallback.
func (c *Client) Poller() *poll.Poller {
	return c.poller
}

func (c *Client) ChannelState() rews.State {
	return c.channel.State()
}

// ChannelErr returns a ChannelDegraded error while the event channel has
// given up reconnecting, and nil otherwise.
func (c *Client) ChannelErr() error {
	return c.channel.Err()
}

// OnChannelState registers fn for every event channel state change.
func (c *Client) OnChannelState(fn func(from, to rews.State)) {
	c.channel.OnStateChange(fn)
}

// Reconnect asks a degraded event channel to try again.
func (c *Client) Reconnect() {
	c.channel.Reconnect()
}

// Watch calls fn for every newly merged feed event named eventName, once per
// logical event whichever channel delivered it first. An empty eventName
// matches every event.
func (c *Client) Watch(eventName string, fn func(models.FeedEvent)) (unsubscribe func()) {
	return c.feed.OnEvent(func(ev models.FeedEvent) {
		if eventName == "" || ev.Name == eventName {
			fn(ev)
		}
	})
}

// onFrame registers fn for raw frames named event. Frames are delivered on
// the connection's read goroutine, after the feed has ingested them.
func (c *Client) onFrame(event string, fn connection.FrameHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextHandlerID
	c.nextHandlerID++
	if c.frameHandlers[event] == nil {
		c.frameHandlers[event] = make(map[int]connection.FrameHandler)
	}
	c.frameHandlers[event][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.frameHandlers[event], id)
	}
}

func (c *Client) handleFrame(frame connection.Frame) {
	c.feed.Ingest(frame.FeedEvent(c.Now()))

	c.mu.RLock()
	handlers := make([]connection.FrameHandler, 0, len(c.frameHandlers[frame.Event]))
	for _, fn := range c.frameHandlers[frame.Event] {
		handlers = append(handlers, fn)
	}
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(frame)
	}
}

// Bootstrap loads the activity log history into the feed and moves the poll
// watermark past it.
func (c *Client) Bootstrap(ctx context.Context) error {
	history, err := c.api.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to load activity history: %w", err)
	}
	accepted := c.feed.IngestAll(history)
	c.poller.Seed(c.feed.Latest())

	c.logger.Info("adminsync.Client loaded activity history", "events", len(history), "accepted", accepted)
	return nil
}

// Run bootstraps the feed and then keeps it live until ctx is cancelled:
// the event channel is supervised and the poll fallback ticks regardless of
// the channel's health. A failed bootstrap is logged and left to the poller.
//
// The event channel is closed when Run returns. A Client runs once.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("adminsync.Client is already running")
	}

	if err := c.Bootstrap(ctx); err != nil {
		c.logger.Warn("adminsync.Client bootstrap failed, relying on polling", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.channel.Run(gctx)
	})
	g.Go(func() error {
		return c.poller.Start(gctx)
	})
	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultWriteTimeout)
	defer cancel()
	if closeErr := c.channel.Close(closeCtx); closeErr != nil {
		c.logger.Debug("adminsync.Client failed to close event channel", "error", closeErr)
	}

	return err
}
