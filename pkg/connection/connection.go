// Package connection defines the Event Channel: a persistent push connection
// delivering named admin events (newLog, orderPlaced, userRegistered).
//
// Implementations live in sub-packages (gorillaws). Reconnection is not the
// connection's concern; see the rews sub-package.
package connection

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
)

// EventConnection is a single push connection. Once lost or closed it stays
// closed; reconnecting means creating a new one.
type EventConnection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
}

// FrameHandler receives every decoded frame, in arrival order, on the
// connection's read goroutine.
type FrameHandler func(Frame)

type Config struct {
	URL url.URL
	// Header is sent with the handshake, e.g. Authorization.
	Header http.Header
	// Encoding selects the frame codec and subprotocol: "json" or "cbor".
	Encoding string
	Logger   logger.Logger
	OnFrame  FrameHandler
}

// NewConfig creates a Config for the event stream at u.
// It is not necessary to create a Config with this function, but it sets the
// defaults the connection expects.
func NewConfig(u *url.URL) *Config {
	return &Config{
		URL:      *u,
		Header:   http.Header{},
		Encoding: constants.DefaultEncoding,
		Logger:   logger.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}
