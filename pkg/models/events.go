package models

import "time"

// EventKind identifies the type of a queued user event.
type EventKind string

const (
	EventUserRegistered EventKind = "USER_REGISTERED"
)

// UserEvent is the message carried on the user_events queue.
// Kind and User are required on the wire. The remaining fields are set by
// this service's publisher but are optional for consumers.
type UserEvent struct {
	Kind          EventKind `json:"event"`
	User          User      `json:"user"`
	EventID       string    `json:"event_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
