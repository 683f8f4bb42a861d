package models

import "time"

// EventType classifies an Event record (spec.md §3).
type EventType string

const (
	EventRequest  EventType = "request"
	EventResponse EventType = "response"
	EventDecision EventType = "decision"
	EventState    EventType = "state"
	EventError    EventType = "error"
)

// Event is an immutable append-only log record (spec.md §3). Events never
// mutate after append; ParentEventID, when set, always references a
// strictly earlier ID (enforced by construction in pkg/eventlog, never by a
// cyclic back-pointer — see the package doc in job.go).
type Event struct {
	ID            int64
	Timestamp     time.Time
	PipelineID    string
	JobID         string
	FromRole      Role
	ToRole        *Role
	EventType     EventType
	ParentEventID *int64
	Content       string
	Metadata      map[string]any
}
