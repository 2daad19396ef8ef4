package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/storefront/adminsync/internal/codec"
	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
)

// DefaultDialer is the gorilla dialer the Connection copies for each dial.
//
// It uses the default gorilla dialer as of gorilla/websocket v1.5.0 with
// EnableCompression set to true. Subprotocols is filled per connection with
// the configured encoding.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Connection struct {
	URL    string
	Header http.Header
	Codec  codec.Codec

	// OnFrame receives every decoded frame on the read goroutine.
	OnFrame connection.FrameHandler

	Conn *gorilla.Conn
	// connLock guards Conn against the concurrent close paths (Close and a
	// lost connection detected by readLoop).
	connLock sync.Mutex

	logger logger.Logger

	// connCloseCh is closed when the connection is lost or closed, and is
	// what Done exposes.
	connCloseCh chan struct{}
	closeOnce   sync.Once

	// connCloseError is the reason the connection went away.
	connCloseError error
}

var _ connection.EventConnection = (*Connection)(nil)

func New(p *connection.Config) (*Connection, error) {
	c, err := codec.ByName(p.Encoding)
	if err != nil {
		return nil, err
	}

	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Connection{
		URL:         p.URL.String(),
		Header:      p.Header.Clone(),
		Codec:       c,
		OnFrame:     p.OnFrame,
		logger:      log,
		connCloseCh: make(chan struct{}),
	}, nil
}

// IsClosed reports whether the connection was lost or closed.
// A closed Connection cannot be reopened; the supervisor dials a new one.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.connCloseCh:
		return true
	default:
		return false
	}
}

func (c *Connection) Done() <-chan struct{} {
	return c.connCloseCh
}

// Err returns why the connection went away, or nil while it is open.
func (c *Connection) Err() error {
	if !c.IsClosed() {
		return nil
	}
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.connCloseError
}

// Connect dials the event stream and starts the read loop.
func (c *Connection) Connect(ctx context.Context) error {
	if c.IsClosed() {
		return constants.ErrClosed
	}

	dialer := *DefaultDialer
	dialer.Subprotocols = []string{c.Codec.Name()}

	conn, res, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if res != nil {
			res.Body.Close()
			return fmt.Errorf("gorillaws.Connection dial %s: %s: %w", c.URL, res.Status, err)
		}
		return fmt.Errorf("gorillaws.Connection dial %s: %w", c.URL, err)
	}
	res.Body.Close()

	c.connLock.Lock()
	c.Conn = conn
	c.connLock.Unlock()

	c.logger.Debug("gorillaws.Connection connected", "url", c.URL, "subprotocol", conn.Subprotocol())

	// The read loop runs until the server goes away or Close is called.
	go c.readLoop(conn)

	return nil
}

// Close sends a close frame and closes the connection.
//
// The context bounds the close frame write. If it expires the connection is
// still closed locally, although not cleanly from the server's perspective.
func (c *Connection) Close(ctx context.Context) error {
	c.connLock.Lock()
	conn := c.Conn
	c.Conn = nil
	c.connLock.Unlock()

	c.closeWithError(constants.ErrClosed)

	if conn == nil {
		return nil
	}

	// Phase 1: try to send the close message.
	writeErr := make(chan error, 1)
	go func() {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(constants.DefaultWriteTimeout)
		}
		writeErr <- conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline)
	}()

	select {
	case err := <-writeErr:
		if err != nil && !errors.Is(err, gorilla.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			c.logger.Warn("gorillaws.Connection failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: close the underlying connection regardless of phase 1. The read
	// loop may already have released it after the server's close reply.
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.connLock.Lock()
		c.connCloseError = err
		c.connLock.Unlock()
		close(c.connCloseCh)
	})
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.handleError(err))
			// The peer is gone; release the socket if Close has not already.
			c.connLock.Lock()
			if c.Conn == conn {
				c.Conn = nil
			}
			c.connLock.Unlock()
			_ = conn.Close()
			return
		}
		c.handleFrame(msgType, data)
	}
}

// handleError maps a read error to the reason recorded on the connection.
func (c *Connection) handleError(err error) error {
	switch {
	case c.IsClosed():
		return constants.ErrClosed
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		c.logger.Info("gorillaws.Connection closed by server", "error", err)
		return io.EOF
	case gorilla.IsUnexpectedCloseError(err):
		c.logger.Warn("gorillaws.Connection lost", "error", err)
		return io.ErrClosedPipe
	default:
		c.logger.Warn("gorillaws.Connection read failed", "error", err)
		return err
	}
}

func (c *Connection) handleFrame(msgType int, data []byte) {
	unmarshaler := codec.Unmarshaler(c.Codec)
	if msgType == gorilla.TextMessage && c.Codec.Binary() {
		// Text frames are always JSON, whatever was negotiated.
		unmarshaler = codec.NewJSON()
	}

	var frame connection.Frame
	if err := unmarshaler.Unmarshal(data, &frame); err != nil {
		c.logger.Error("gorillaws.Connection failed to decode frame", "error", err, "size", len(data))
		return
	}
	if frame.Event == "" {
		c.logger.Warn("gorillaws.Connection frame without event name", "id", frame.ID)
		return
	}

	if c.OnFrame != nil {
		c.OnFrame(frame)
	}
}
