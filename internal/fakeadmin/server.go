// Package fakeadmin provides a fake admin backend for tests: the REST
// endpoints the console mutates and polls, and the event stream it listens to.
//
// REST routes are served with gorilla/mux. The event stream is served with
// the gws library on the same listener, negotiating the "json" or "cbor"
// subprotocol per connection.
//
// Failures are injected per request with stubs that are consumed in order,
// and the event stream can be taken down or have its connections dropped to
// exercise reconnection and the poll fallback.
package fakeadmin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/storefront/adminsync/internal/codec"
	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/models"
)

// Stub overrides the next matching REST request.
type Stub struct {
	// Status is the response code. A non-2xx status answers with
	// {"message": Message} and leaves the data untouched.
	Status  int
	Message string
	// Delay is applied before the request is handled.
	Delay time.Duration
	// Empty answers a successful mutation with no body.
	Empty bool
}

type stubKey struct {
	method string
	kind   string
}

// collection keeps entities in insertion order.
type collection struct {
	order []string
	items map[string]map[string]any
}

func newCollection() *collection {
	return &collection{items: make(map[string]map[string]any)}
}

func (c *collection) list() []map[string]any {
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *collection) put(id string, item map[string]any) {
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = item
}

func (c *collection) remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Server is a fake admin backend.
type Server struct {
	addr     string
	listener net.Listener
	httpSrv  *http.Server
	router   *mux.Router
	upgrader *gws.Upgrader

	// Token, when set, is required as a bearer token on every request.
	Token string

	// NextID assigns ids to created entities. Default: a random UUID.
	NextID func(kind string) string

	// Now stamps activity logs added without a time. Default: time.Now.
	Now func() time.Time

	logger logger.Logger

	mu          sync.RWMutex
	collections map[string]*collection
	logs        []models.ActivityLog
	stubs       map[stubKey][]Stub
	requests    []string
	eventsDown  bool
	connections map[*gws.Conn]codec.Codec
}

// NewServer creates a fake admin backend.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:        addr,
		NextID:      func(string) string { return uuid.NewString() },
		Now:         time.Now,
		logger:      logger.Nop(),
		collections: make(map[string]*collection),
		stubs:       make(map[stubKey][]Stub),
		connections: make(map[*gws.Conn]codec.Codec),
	}

	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{
		SubProtocols: []string{codec.JSONName, codec.CBORName},
	})

	r := mux.NewRouter()
	r.Use(s.recordRequest, s.authorize)
	r.HandleFunc("/admin/activity-logs", s.handleActivityLogs).Methods(http.MethodGet)
	r.HandleFunc("/admin/activity-logs/latest", s.handleLatestActivityLogs).Methods(http.MethodGet)
	r.HandleFunc(constants.DefaultEventsPath, s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/admin/{kind}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/admin/{kind}", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/admin/{kind}/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/admin/{kind}/{id}", s.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/admin/{kind}/{id}", s.handleDelete).Methods(http.MethodDelete)
	s.router = r

	return s
}

func (s *Server) SetLogger(log logger.Logger) {
	if log != nil {
		s.logger = log
	}
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts serving. It returns an error if the address cannot be bound.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("fakeadmin server error", "error", err)
		}
	}()

	return nil
}

// Stop drops every event stream connection and shuts the server down.
func (s *Server) Stop() error {
	s.DropConnections()
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return constants.HTTPScheme + "://" + s.Address()
}

func (s *Server) EventsURL() string {
	return constants.WebsocketScheme + "://" + s.Address() + constants.DefaultEventsPath
}

// Seed stores entities under kind. Each entity is stored as its JSON form
// and must carry an id.
func (s *Server) Seed(kind string, entities ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collectionLocked(kind)
	for _, e := range entities {
		item, err := toMap(e)
		if err != nil {
			return err
		}
		id, _ := item["id"].(string)
		if id == "" {
			return fmt.Errorf("fakeadmin: seeded %s entity without id", kind)
		}
		c.put(id, item)
	}
	return nil
}

// Entity returns the stored entity decoded into dst.
func (s *Server) Entity(kind, id string, dst any) bool {
	s.mu.RLock()
	var item map[string]any
	c, ok := s.collections[kind]
	if ok {
		item, ok = c.items[id]
	}
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return fromMap(item, dst) == nil
}

// Len returns the number of entities stored under kind.
func (s *Server) Len(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[kind]; ok {
		return len(c.order)
	}
	return 0
}

// AddStub queues a stub for the next request with the given method to
// /admin/{kind}. Stubs for the same method and kind are consumed in order.
func (s *Server) AddStub(method, kind string, stub Stub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stubKey{method: method, kind: kind}
	s.stubs[key] = append(s.stubs[key], stub)
}

// FailNext makes the next method request to /admin/{kind} fail with status.
func (s *Server) FailNext(method, kind string, status int, message string) {
	s.AddStub(method, kind, Stub{Status: status, Message: message})
}

func (s *Server) nextStub(method, kind string) (Stub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stubKey{method: method, kind: kind}
	queue := s.stubs[key]
	if len(queue) == 0 {
		return Stub{}, false
	}
	s.stubs[key] = queue[1:]
	return queue[0], true
}

// AddLog records an activity log without pushing it. Missing ids and times
// are filled in.
func (s *Server) AddLog(log models.ActivityLog) models.ActivityLog {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Time.IsZero() {
		log.Time = s.Now()
	}

	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()
	return log
}

// Announce records an activity log and pushes it as a newLog event with the
// same id, the way the real backend reports activity on both channels.
func (s *Server) Announce(log models.ActivityLog) (models.ActivityLog, error) {
	log = s.AddLog(log)
	return log, s.Publish(connection.Frame{
		Event: models.EventNewLog,
		ID:    log.ID,
		Data: map[string]any{
			"message": log.Message,
			"type":    log.Type,
			"time":    log.Time.UTC().Format(time.RFC3339Nano),
		},
	})
}

// Requests returns "METHOD /path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) collectionLocked(kind string) *collection {
	c, ok := s.collections[kind]
	if !ok {
		c = newCollection()
		s.collections[kind] = c
	}
	return c
}

func (s *Server) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
