// Package rews supervises the Event Channel: it dials, watches for a lost
// connection, retries with a bounded Retryer and, once the budget is spent,
// marks the channel degraded so polling carries the feed alone until a
// manual Reconnect succeeds.
package rews

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateReconnecting
	StateDegraded
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateDegraded:
		return "Degraded"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	if newState == StateClosing {
		switch s {
		case StateClosing, StateClosed, StateUnknown:
		default:
			return nil
		}
	}

	switch s {
	case StateDisconnected:
		if newState == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateDegraded:
			return nil
		}
	case StateConnected:
		// Connected to Reconnecting happens when the connection is lost
		// after it was established.
		if newState == StateReconnecting {
			return nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnected, StateDegraded:
			return nil
		}
	case StateDegraded:
		if newState == StateConnecting {
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// Supervisor owns the lifecycle of one logical event channel, built from
// successive connections of type C.
type Supervisor[C connection.EventConnection] struct {
	// NewFunc creates a fresh connection for every dial.
	NewFunc func(context.Context) (C, error)

	// Retryer paces retries after a failed dial. Default: DefaultRetryer.
	Retryer Retryer

	Metrics *metrics.Metrics

	logger logger.Logger

	// stateMu protects state, conn, lastErr and listeners.
	stateMu   sync.Mutex
	state     State
	conn      C
	hasConn   bool
	lastErr   error
	listeners []func(from, to State)

	// reconnectCh carries manual Reconnect requests to Run.
	reconnectCh chan struct{}

	// closeCh signals that Close was called; runDone is closed when Run
	// returns, so Close can wait for the loop before tearing down.
	closeCh   chan struct{}
	closeOnce sync.Once
	runMu     sync.Mutex
	runDone   chan struct{}
}

func New[C connection.EventConnection](newConn func(context.Context) (C, error), log logger.Logger) *Supervisor[C] {
	if log == nil {
		log = logger.Nop()
	}
	return &Supervisor[C]{
		NewFunc:     newConn,
		Retryer:     DefaultRetryer(),
		logger:      log,
		state:       StateDisconnected,
		reconnectCh: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
}

// OnStateChange registers fn to be called after every transition, outside
// the supervisor's lock.
func (s *Supervisor[C]) OnStateChange(fn func(from, to State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.listeners = append(s.listeners, fn)
}

func (s *Supervisor[C]) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.state
}

// IsClosed returns true once Close has completed.
func (s *Supervisor[C]) IsClosed() bool {
	return s.State() == StateClosed
}

// Err returns a ChannelDegraded error wrapping the last dial failure while
// the channel is degraded, and nil otherwise.
func (s *Supervisor[C]) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != StateDegraded {
		return nil
	}
	return fmt.Errorf("%w: %w", constants.ErrChannelDegraded, s.lastErr)
}

func (s *Supervisor[C]) transitionTo(newState State) error {
	s.stateMu.Lock()
	from := s.state
	if err := from.validateTransitionTo(newState); err != nil {
		s.stateMu.Unlock()
		return err
	}
	s.state = newState
	listeners := slices.Clone(s.listeners)
	s.stateMu.Unlock()

	s.logger.Debug("rews.Supervisor state transitioned", "from", from.String(), "to", newState.String())
	s.Metrics.ChannelState(int(newState))
	for _, fn := range listeners {
		fn(from, newState)
	}
	return nil
}

// dial creates and connects one connection.
func (s *Supervisor[C]) dial(ctx context.Context) error {
	conn, err := s.NewFunc(ctx)
	if err != nil {
		return fmt.Errorf("rews.Supervisor failed to create a new connection: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("rews.Supervisor failed to connect: %w", err)
	}

	s.stateMu.Lock()
	s.conn = conn
	s.hasConn = true
	s.lastErr = nil
	s.stateMu.Unlock()
	return nil
}

// Connect makes a single connection attempt without retrying.
//
// It returns an error if the attempt fails, leaving the supervisor
// disconnected. Run retries with the configured Retryer instead.
func (s *Supervisor[C]) Connect(ctx context.Context) error {
	if err := s.transitionTo(StateConnecting); err != nil {
		return err
	}

	if err := s.dial(ctx); err != nil {
		s.setLastErr(err)
		if stateErr := s.transitionTo(StateDisconnected); stateErr != nil {
			s.logger.Error("BUG: rews.Supervisor failed to transition to disconnected state", "error", stateErr)
		}
		return err
	}

	if err := s.transitionTo(StateConnected); err != nil {
		s.logger.Error("BUG: rews.Supervisor failed to transition to connected state", "error", err)
		return err
	}
	s.retryer().Reset()
	return nil
}

func (s *Supervisor[C]) setLastErr(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
}

func (s *Supervisor[C]) retryer() Retryer {
	if s.Retryer == nil {
		return DefaultRetryer()
	}
	return s.Retryer
}

// Reconnect asks Run to dial again. It only has an effect while the channel
// is degraded or disconnected.
func (s *Supervisor[C]) Reconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// Run supervises the channel until ctx is cancelled or Close is called.
// It dials with retries if not yet connected, redials when the connection is
// lost, and parks in StateDegraded once the Retryer gives up.
func (s *Supervisor[C]) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.runDone != nil {
		s.runMu.Unlock()
		return fmt.Errorf("rews.Supervisor is already running")
	}
	s.runDone = make(chan struct{})
	s.runMu.Unlock()
	defer close(s.runDone)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closeCh:
			return nil
		default:
		}

		switch state := s.State(); state {
		case StateDisconnected, StateDegraded:
			if state == StateDegraded && !s.waitForReconnect(ctx) {
				return nil
			}
			if err := s.transitionTo(StateConnecting); err != nil {
				s.logger.Error("BUG: rews.Supervisor failed to transition to connecting state", "error", err)
				return err
			}
			s.connectWithRetry(ctx)

		case StateConnected:
			s.stateMu.Lock()
			conn := s.conn
			s.stateMu.Unlock()

			select {
			case <-ctx.Done():
				return nil
			case <-s.closeCh:
				return nil
			case <-conn.Done():
			}

			s.logger.Warn("rews.Supervisor lost the event connection, reconnecting")
			if err := s.transitionTo(StateReconnecting); err != nil {
				// Close won the race.
				return nil
			}
			s.connectWithRetry(ctx)

		case StateClosing, StateClosed:
			return nil

		default:
			return fmt.Errorf("rews.Supervisor cannot run in state %v", state)
		}
	}
}

// waitForReconnect parks until a manual Reconnect, reporting false when the
// supervisor should stop instead.
func (s *Supervisor[C]) waitForReconnect(ctx context.Context) bool {
	s.logger.Debug("rews.Supervisor is degraded, waiting for a manual reconnect")
	select {
	case <-ctx.Done():
		return false
	case <-s.closeCh:
		return false
	case <-s.reconnectCh:
		return true
	}
}

// connectWithRetry dials from StateConnecting or StateReconnecting until it
// succeeds, the Retryer gives up or the supervisor stops.
func (s *Supervisor[C]) connectWithRetry(ctx context.Context) {
	retryer := s.retryer()

	for attempt := 0; ; attempt++ {
		err := s.dial(ctx)
		if err == nil {
			retryer.Reset()
			if stateErr := s.transitionTo(StateConnected); stateErr != nil {
				s.logger.Debug("rews.Supervisor connected while closing", "error", stateErr)
			} else {
				s.logger.Info("rews.Supervisor connected", "attempts", attempt+1)
			}
			return
		}
		s.setLastErr(err)

		delay, again := retryer.NextDelay(attempt, err)
		if !again {
			// Reconnect requests made before giving up are stale.
			select {
			case <-s.reconnectCh:
			default:
			}
			if stateErr := s.transitionTo(StateDegraded); stateErr == nil {
				s.logger.Warn("rews.Supervisor gave up reconnecting, relying on polling",
					"attempts", attempt+1,
					"error", fmt.Errorf("%w: %w", constants.ErrChannelDegraded, err),
				)
			}
			return
		}

		s.logger.Debug("rews.Supervisor dial failed, retrying", "attempt", attempt+1, "delay", delay.String(), "error", err)
		s.Metrics.ReconnectAttempt()

		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case <-time.After(delay):
		}
	}
}

// Close stops Run, waits for it to return and closes the current connection.
func (s *Supervisor[C]) Close(ctx context.Context) error {
	if err := s.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("rews.Supervisor is already closing or closed: %w", err)
	}

	defer func() {
		if err := s.transitionTo(StateClosed); err != nil {
			s.logger.Error("BUG: rews.Supervisor failed to transition to closed state", "error", err)
		}
	}()

	// Stop the loop first so it cannot redial after the connection is closed.
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.runMu.Lock()
	runDone := s.runDone
	s.runMu.Unlock()
	if runDone != nil {
		select {
		case <-runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.stateMu.Lock()
	conn, ok := s.conn, s.hasConn
	s.stateMu.Unlock()
	if !ok || conn.IsClosed() {
		return nil
	}
	return conn.Close(ctx)
}
