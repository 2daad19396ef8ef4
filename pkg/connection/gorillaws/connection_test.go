package gorillaws_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/adminsync/internal/fakeadmin"
	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/connection/gorillaws"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/models"
)

type received struct {
	mu     sync.Mutex
	frames []connection.Frame
}

func (r *received) add(frame connection.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *received) snapshot() []connection.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]connection.Frame{}, r.frames...)
}

func startServer(t *testing.T) *fakeadmin.Server {
	t.Helper()
	server := fakeadmin.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		assert.NoError(t, server.Stop())
	})
	return server
}

func newConnection(t *testing.T, server *fakeadmin.Server, encoding string, r *received) *gorillaws.Connection {
	t.Helper()
	u, err := url.Parse(server.EventsURL())
	require.NoError(t, err)

	conf := connection.NewConfig(u)
	conf.Encoding = encoding
	conf.OnFrame = r.add

	conn, err := gorillaws.New(conf)
	require.NoError(t, err)
	return conn
}

func waitDone(t *testing.T, conn *gorillaws.Connection) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not report being closed")
	}
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	u, err := url.Parse("ws://localhost:8080/admin/events")
	require.NoError(t, err)

	conf := connection.NewConfig(u)
	conf.Encoding = "xml"
	_, err = gorillaws.New(conf)
	require.Error(t, err)
}

func TestReadLoopDecodesFrames(t *testing.T) {
	for _, encoding := range []string{"json", "cbor"} {
		t.Run(encoding, func(t *testing.T) {
			server := startServer(t)
			r := &received{}
			conn := newConnection(t, server, encoding, r)
			require.NoError(t, conn.Connect(context.Background()))
			defer conn.Close(context.Background())

			assert.Equal(t, encoding, conn.Conn.Subprotocol(), "server answers with the requested codec")
			require.Eventually(t, func() bool { return server.Connections() == 1 }, time.Second, time.Millisecond)

			require.NoError(t, server.Publish(connection.Frame{
				Event: models.EventOrderPlaced,
				ID:    "evt-1",
				Data: map[string]any{
					"order": map[string]any{
						"id":        "ORD-1001",
						"customer":  "Ada",
						"total":     42.5,
						"status":    "pending",
						"createdAt": "2026-03-01T10:00:00Z",
					},
				},
			}))
			// Frames without an event name are dropped.
			require.NoError(t, server.Publish(connection.Frame{ID: "evt-2"}))
			require.NoError(t, server.Publish(connection.Frame{
				Event: models.EventNewLog,
				ID:    "evt-3",
				Data:  map[string]any{"message": "Coupon created", "type": "coupon", "time": "2026-03-01T10:00:01Z"},
			}))

			require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, time.Second, time.Millisecond)
			frames := r.snapshot()
			assert.Equal(t, "evt-1", frames[0].ID)
			assert.Equal(t, "evt-3", frames[1].ID)

			var order models.Order
			require.NoError(t, frames[0].Decode("order", &order))
			assert.Equal(t, "ORD-1001", order.ID)
			assert.Equal(t, 42.5, order.Total)
			assert.True(t, order.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

			event := frames[1].FeedEvent(time.Now())
			assert.Equal(t, "Coupon created", event.Message)
			assert.Equal(t, "coupon", event.Category)
			assert.False(t, conn.IsClosed())
		})
	}
}

func TestDoneFiresWhenServerDrops(t *testing.T) {
	server := startServer(t)
	conn := newConnection(t, server, "json", &received{})
	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool { return server.Connections() == 1 }, time.Second, time.Millisecond)
	assert.NoError(t, conn.Err())

	server.DropConnections()

	waitDone(t, conn)
	assert.True(t, conn.IsClosed())
	assert.Error(t, conn.Err())
	require.ErrorIs(t, conn.Connect(context.Background()), constants.ErrClosed, "a lost connection is not reopened")
}

func TestClose(t *testing.T) {
	server := startServer(t)
	conn := newConnection(t, server, "json", &received{})
	require.NoError(t, conn.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))

	waitDone(t, conn)
	require.ErrorIs(t, conn.Err(), constants.ErrClosed)
	require.Eventually(t, func() bool { return server.Connections() == 0 }, time.Second, time.Millisecond)

	// Closing twice is a no-op.
	require.NoError(t, conn.Close(ctx))
}

func TestConnectFailsWhenStreamIsDown(t *testing.T) {
	server := startServer(t)
	server.SetEventsDown(true)

	conn := newConnection(t, server, "json", &received{})
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, conn.IsClosed(), "a failed dial leaves the connection unused")
}
