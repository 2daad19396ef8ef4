package fakeadmin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lxzan/gws"

	"github.com/storefront/adminsync/internal/codec"
	"github.com/storefront/adminsync/pkg/connection"
)

// Handler implements gws.Event for event stream connections. Clients only
// listen, so incoming messages are ignored.
type Handler struct {
	server *Server
}

func (h *Handler) OnOpen(*gws.Conn) {}

func (h *Handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.connections, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Debug("fakeadmin failed to write pong", "error", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(_ *gws.Conn, message *gws.Message) {
	_ = message.Close()
}

// negotiate picks the codec for the first requested subprotocol the server
// knows, defaulting to JSON like the upgrader does.
func negotiate(r *http.Request) codec.Codec {
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, name := range strings.Split(header, ",") {
			if c, err := codec.ByName(strings.TrimSpace(name)); err == nil {
				return c
			}
		}
	}
	return codec.NewJSON()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	down := s.eventsDown
	s.mu.RUnlock()
	if down {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	c := negotiate(r)
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("fakeadmin failed to upgrade event stream", "error", err)
		return
	}

	s.mu.Lock()
	s.connections[socket] = c
	s.mu.Unlock()

	go socket.ReadLoop()
}

// SetEventsDown makes new event stream handshakes fail with 503 while down is
// true. Existing connections are not affected; see DropConnections.
func (s *Server) SetEventsDown(down bool) {
	s.mu.Lock()
	s.eventsDown = down
	s.mu.Unlock()
}

// DropConnections closes every event stream connection without a close
// frame, as a crashed backend or a network failure would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	sockets := make([]*gws.Conn, 0, len(s.connections))
	for socket := range s.connections {
		sockets = append(sockets, socket)
	}
	clear(s.connections)
	s.mu.Unlock()

	for _, socket := range sockets {
		_ = socket.NetConn().Close()
	}
}

// Connections returns the number of open event stream connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Publish pushes frame to every open event stream connection, encoded with
// each connection's negotiated codec.
func (s *Server) Publish(frame connection.Frame) error {
	s.mu.RLock()
	targets := make(map[*gws.Conn]codec.Codec, len(s.connections))
	for socket, c := range s.connections {
		targets[socket] = c
	}
	s.mu.RUnlock()

	var errs []error
	for socket, c := range targets {
		data, err := c.Marshal(frame)
		if err != nil {
			return fmt.Errorf("fakeadmin: failed to encode %s frame: %w", frame.Event, err)
		}
		opcode := gws.OpcodeText
		if c.Binary() {
			opcode = gws.OpcodeBinary
		}
		if err := socket.WriteMessage(opcode, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
