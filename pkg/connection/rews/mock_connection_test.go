package rews

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errRefused = errors.New("connection refused")

// mockConnection is an EventConnection whose loss is triggered by the test.
type mockConnection struct {
	connectErr error

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newMockConnection(connectErr error) *mockConnection {
	return &mockConnection{connectErr: connectErr, done: make(chan struct{})}
}

func (m *mockConnection) Connect(context.Context) error {
	return m.connectErr
}

func (m *mockConnection) Close(context.Context) error {
	m.drop()
	return nil
}

func (m *mockConnection) IsClosed() bool {
	return m.closed.Load()
}

func (m *mockConnection) Done() <-chan struct{} {
	return m.done
}

// drop simulates the server going away.
func (m *mockConnection) drop() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
}

// dialer hands out mock connections and records every dial.
type dialer struct {
	mu     sync.Mutex
	fail   bool
	dialed []*mockConnection
}

func (d *dialer) setFailing(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *dialer) newConn(context.Context) (*mockConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.fail {
		err = errRefused
	}
	conn := newMockConnection(err)
	d.dialed = append(d.dialed, conn)
	return conn, nil
}

func (d *dialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

func (d *dialer) last() *mockConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialed[len(d.dialed)-1]
}
