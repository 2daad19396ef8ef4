package constants

import "errors"

// Errors
var (
	// ErrStageConflict is returned when a mutation is staged against an entity
	// that already has one in flight.
	ErrStageConflict = errors.New("mutation already in flight for entity")
	// ErrRemoteFailure marks a mutation whose remote call failed and was rolled back.
	ErrRemoteFailure = errors.New("remote mutation failed")
	// ErrChannelDegraded is reported once the event channel has exhausted its
	// reconnection attempts. Poll delivery continues.
	ErrChannelDegraded = errors.New("event channel degraded")
	// ErrStaleReconciliation marks a remote response that no longer matches the
	// local state it was issued against. It is logged, never surfaced to users.
	ErrStaleReconciliation = errors.New("stale reconciliation discarded")
)

var (
	ErrIDInUse        = errors.New("id already in use")
	ErrNotFound       = errors.New("entity not found")
	ErrMissingTarget  = errors.New("target id is required")
	ErrClosed         = errors.New("connection closed")
	ErrNoBaseURL      = errors.New("base url not set")
	ErrUnknownEncoder = errors.New("unknown encoding")
)
