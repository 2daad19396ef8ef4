package rews

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/metrics"
)

const eventually = 2 * time.Second

func TestValidateTransitionTo(t *testing.T) {
	testCases := []struct {
		from, to State
		valid    bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDegraded, true},
		{StateConnected, StateReconnecting, true},
		{StateConnected, StateConnecting, false},
		{StateReconnecting, StateConnected, true},
		{StateReconnecting, StateDegraded, true},
		{StateDegraded, StateConnecting, true},
		{StateDegraded, StateConnected, false},
		{StateConnected, StateClosing, true},
		{StateDegraded, StateClosing, true},
		{StateClosing, StateClosed, true},
		{StateClosing, StateClosing, false},
		{StateClosed, StateConnecting, false},
		{StateClosed, StateClosing, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			err := tc.from.validateTransitionTo(tc.to)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// recorder collects state changes.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(_, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newSupervisor(d *dialer, retries int) (*Supervisor[*mockConnection], *recorder) {
	s := New(d.newConn, nil)
	s.Retryer = NewFixedDelayRetryer(time.Millisecond, retries)
	rec := &recorder{}
	s.OnStateChange(rec.record)
	return s, rec
}

func run(t *testing.T, s *Supervisor[*mockConnection]) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(eventually):
			t.Error("Run did not return")
		}
	}
}

func TestConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s, rec := newSupervisor(&dialer{}, 3)
		require.NoError(t, s.Connect(context.Background()))
		assert.Equal(t, StateConnected, s.State())
		assert.Equal(t, []State{StateConnecting, StateConnected}, rec.seen())
	})

	t.Run("failure does not retry", func(t *testing.T) {
		d := &dialer{fail: true}
		s, _ := newSupervisor(d, 3)
		err := s.Connect(context.Background())
		require.ErrorIs(t, err, errRefused)
		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, 1, d.count())
		assert.NoError(t, s.Err(), "a single failed attempt is not degradation")
	})
}

func TestListenerAddedDuringTransition(t *testing.T) {
	s, rec := newSupervisor(&dialer{}, 3)

	late := &recorder{}
	var once sync.Once
	s.OnStateChange(func(_, _ State) {
		once.Do(func() { s.OnStateChange(late.record) })
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.seen())
	assert.Equal(t, []State{StateConnected}, late.seen(), "a listener added mid-transition starts with the next one")
}

func TestRunReconnectsAfterLoss(t *testing.T) {
	d := &dialer{}
	s, rec := newSupervisor(d, 3)
	stop := run(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, eventually, time.Millisecond)
	first := d.last()

	first.drop()
	require.Eventually(t, func() bool {
		return d.count() == 2 && s.State() == StateConnected
	}, eventually, time.Millisecond)

	assert.Contains(t, rec.seen(), StateReconnecting)
	assert.NotSame(t, first, d.last())
}

func TestRunDegradesAfterRetryBudget(t *testing.T) {
	d := &dialer{fail: true}
	reg := prometheus.NewRegistry()
	s, rec := newSupervisor(d, 3)
	s.Metrics = metrics.New(reg)

	stop := run(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.State() == StateDegraded }, eventually, time.Millisecond)
	assert.Equal(t, 4, d.count(), "the initial dial plus three retries")

	err := s.Err()
	require.ErrorIs(t, err, constants.ErrChannelDegraded)
	require.ErrorIs(t, err, errRefused)

	// Degraded is terminal until someone asks again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, d.count())

	t.Run("manual reconnect", func(t *testing.T) {
		d.setFailing(false)
		s.Reconnect()

		require.Eventually(t, func() bool { return s.State() == StateConnected }, eventually, time.Millisecond)
		assert.NoError(t, s.Err())
		assert.Equal(t, 5, d.count())

		seen := rec.seen()
		assert.Equal(t, StateDegraded, seen[len(seen)-3])
		assert.Equal(t, StateConnecting, seen[len(seen)-2])
		assert.Equal(t, StateConnected, seen[len(seen)-1])
	})
}

func TestReconnectWhileConnectedIsIgnored(t *testing.T) {
	d := &dialer{}
	s, _ := newSupervisor(d, 3)
	stop := run(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, eventually, time.Millisecond)
	s.Reconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestClose(t *testing.T) {
	d := &dialer{}
	s, _ := newSupervisor(d, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, eventually, time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(eventually):
		t.Fatal("Run did not return after Close")
	}

	assert.True(t, s.IsClosed())
	assert.True(t, d.last().IsClosed())
	require.Error(t, s.Close(context.Background()))
	assert.Equal(t, 1, d.count(), "a closed supervisor does not redial")
}

func TestCloseWithoutRun(t *testing.T) {
	s, _ := newSupervisor(&dialer{}, 3)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())
}

func TestRunTwice(t *testing.T) {
	s, _ := newSupervisor(&dialer{}, 3)
	stop := run(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, eventually, time.Millisecond)
	require.Error(t, s.Run(context.Background()))
}
