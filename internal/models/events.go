package models

import "time"

// EventKind identifies an observer notification emitted by the pipeline.
type EventKind string

const (
	// EventNewMessage is emitted for every persisted inbound/outbound pair.
	EventNewMessage EventKind = "new_message"
	// EventEscalationDetected is emitted when a conversation is handed to a human.
	EventEscalationDetected EventKind = "escalation_detected"
	// EventSpamBlocked is emitted when the spam guard blocks a participant.
	EventSpamBlocked EventKind = "spam_blocked"
)

// Event is a best-effort notification consumed by the external dashboard.
// Emission never blocks or fails the reply path.
type Event struct {
	Kind          EventKind `json:"kind"`
	ParticipantID string    `json:"participant_id"`
	Reason        string    `json:"reason,omitempty"`
	Body          string    `json:"body,omitempty"`
	Time          time.Time `json:"time"`
}
