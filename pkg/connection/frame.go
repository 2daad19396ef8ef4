package connection

import (
	"fmt"
	"time"

	"github.com/storefront/adminsync/internal/codec"
	"github.com/storefront/adminsync/pkg/models"
)

// Frame is the wire envelope of one pushed event.
//
//	{"event": "newLog", "id": "7f0c...", "data": {"message": "...", "type": "info", "time": "..."}}
type Frame struct {
	Event string         `json:"event"`
	ID    string         `json:"id,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// FeedEvent converts the frame into a feed entry. now is used when the
// payload carries no usable timestamp.
func (f Frame) FeedEvent(now time.Time) models.FeedEvent {
	ev := models.FeedEvent{
		Source: models.SourcePush,
		ID:     f.ID,
		Name:   f.Event,
		Data:   f.Data,
	}

	switch f.Event {
	case models.EventOrderPlaced:
		order := nested(f.Data, "order")
		ev.Message = fmt.Sprintf("New order %s placed", stringField(order, "id"))
		ev.Category = "order"
		ev.OccurredAt = timeField(order, "createdAt", now)

	case models.EventUserRegistered:
		user := nested(f.Data, "user")
		ev.Message = fmt.Sprintf("New user registered: %s", stringField(user, "name"))
		ev.Category = "user"
		ev.OccurredAt = timeField(user, "createdAt", now)

	default:
		// newLog and anything unknown: {message, type, time}
		ev.Message = stringField(f.Data, "message")
		if ev.Message == "" {
			ev.Message = f.Event
		}
		ev.Category = stringField(f.Data, "type")
		if ev.Category == "" {
			ev.Category = f.Event
		}
		ev.OccurredAt = timeField(f.Data, "time", now)
	}

	return ev
}

// Decode re-encodes the payload under key into dst, for frames carrying a
// domain entity (e.g. "order" on orderPlaced). An empty key decodes the whole
// payload.
func (f Frame) Decode(key string, dst any) error {
	var src any = f.Data
	if key != "" {
		v, ok := f.Data[key]
		if !ok {
			return fmt.Errorf("frame %s has no %q payload", f.Event, key)
		}
		src = v
	}

	json := codec.NewJSON()
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("frame %s: %w", f.Event, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("frame %s: %w", f.Event, err)
	}
	return nil
}

func nested(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)
	return m
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// timeField accepts RFC 3339 strings and epoch milliseconds.
func timeField(data map[string]any, key string, fallback time.Time) time.Time {
	switch v := data[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case uint64:
		return time.UnixMilli(int64(v)).UTC()
	}
	return fallback
}
