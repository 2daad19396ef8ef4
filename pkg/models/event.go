package models

import "time"

// Source identifies the delivery channel a FeedEvent arrived on.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Event names emitted by the admin event stream.
const (
	EventNewLog         = "newLog"
	EventOrderPlaced    = "orderPlaced"
	EventUserRegistered = "userRegistered"
)

// FeedEvent is one delivered occurrence in the activity feed.
// FeedEvents are immutable once created.
type FeedEvent struct {
	Source Source `json:"source"`
	// ID is the server assigned event id. Empty when the channel did not surface one.
	ID string `json:"id,omitempty"`
	// Name is the stream event name (newLog, orderPlaced, ...). Poll events
	// carry EventNewLog.
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurredAt"`
	// Data is the raw payload for events that carry a domain entity.
	Data map[string]any `json:"data,omitempty"`
}

// ActivityLog is a log line as served by the activity log endpoints.
type ActivityLog struct {
	ID      string    `json:"id,omitempty"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
}

func (l ActivityLog) FeedEvent(source Source) FeedEvent {
	return FeedEvent{
		Source:     source,
		ID:         l.ID,
		Name:       EventNewLog,
		Message:    l.Message,
		Category:   l.Type,
		OccurredAt: l.Time,
	}
}
