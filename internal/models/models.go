// Package models defines the core data structures for the election assistant.
//
// It includes conversation state, message records, guided-flow state, and the
// observer event types shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationStatus describes where a conversation is in its lifecycle.
type ConversationStatus string

const (
	// StatusAwaitingGreeting means the participant has never been greeted.
	StatusAwaitingGreeting ConversationStatus = "awaiting_greeting"
	// StatusAwaitingConsent means the greeting was sent and consent is pending.
	StatusAwaitingConsent ConversationStatus = "awaiting_consent"
	// StatusActive means the conversation is in normal automated service.
	StatusActive ConversationStatus = "active"
	// StatusOutOfHours means the last inbound arrived outside service hours.
	StatusOutOfHours ConversationStatus = "out_of_hours"
	// StatusPendingAdvisor means an escalation was raised and no advisor has taken over yet.
	StatusPendingAdvisor ConversationStatus = "pending_advisor"
	// StatusAdvisorHandled means a human advisor owns the conversation.
	StatusAdvisorHandled ConversationStatus = "advisor_handled"
)

// IsValidConversationStatus checks if the given status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case StatusAwaitingGreeting, StatusAwaitingConsent, StatusActive,
		StatusOutOfHours, StatusPendingAdvisor, StatusAdvisorHandled:
		return true
	default:
		return false
	}
}

// ConsentStatus tracks the participant's data-handling acknowledgment.
// It only moves forward (pending -> accepted/noted) except on a full reset.
type ConsentStatus string

const (
	// ConsentPending means the consent prompt has not been answered.
	ConsentPending ConsentStatus = "pending"
	// ConsentAccepted means the participant explicitly accepted.
	ConsentAccepted ConsentStatus = "accepted"
	// ConsentNoted means the participant declined or answered something else;
	// service continues, the acknowledgment is only recorded.
	ConsentNoted ConsentStatus = "noted"
)

// Direction indicates whether a message was received or sent.
type Direction string

const (
	// DirectionIn marks an inbound message from the participant.
	DirectionIn Direction = "in"
	// DirectionOut marks an outbound message to the participant.
	DirectionOut Direction = "out"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleUser    SenderRole = "user"
	RoleBot     SenderRole = "bot"
	RoleAdvisor SenderRole = "advisor"
	RoleSystem  SenderRole = "system"
)

// MessageType categorizes outbound messages for reporting.
type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeGreeting      MessageType = "greeting"
	MessageTypeConsentPrompt MessageType = "consent_prompt"
	MessageTypeMenu          MessageType = "menu"
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeOutOfHours    MessageType = "out_of_hours"
	MessageTypeEscalation    MessageType = "escalation"
)

// Validation constants for inbound messages.
const (
	// MaxMessageBodyLength is the maximum accepted inbound body length.
	MaxMessageBodyLength = 4096
	// MaxRecentMessages bounds the in-memory recent window on a conversation.
	// Older history lives in the durable store.
	MaxRecentMessages = 50
)

// Error variables for better error handling and testability.
var (
	ErrEmptyParticipantID = errors.New("participant id cannot be empty")
	ErrEmptyBody          = errors.New("message body cannot be empty")
	ErrBodyTooLong        = errors.New("message body exceeds maximum length")
	ErrInvalidStatus      = errors.New("invalid conversation status")
	ErrNoActiveFlow       = errors.New("conversation has no active flow")
)

// MessageRecord is an immutable, append-only record of one message.
// Records are deduplicated by ID against transport re-delivery.
type MessageRecord struct {
	ID            string      `json:"id"`
	ParticipantID string      `json:"participant_id"`
	Direction     Direction   `json:"direction"`
	Role          SenderRole  `json:"role"`
	Type          MessageType `json:"type"`
	Body          string      `json:"body"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Validate checks a MessageRecord before it is appended to the durable log.
func (m *MessageRecord) Validate() error {
	if m.ParticipantID == "" {
		return ErrEmptyParticipantID
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// InboundMeta carries transport-level metadata for one inbound event.
type InboundMeta struct {
	// MessageID is the transport's stable id for the event, used for dedup.
	MessageID string `json:"message_id"`
	// Channel names the transport that delivered the event (whatsapp, twilio, api).
	Channel string `json:"channel,omitempty"`
	// ReceivedAt is the transport timestamp, unix seconds.
	ReceivedAt int64 `json:"received_at,omitempty"`
}

// Delivery statuses reported by the transports.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Receipt represents a delivery status event from the transport.
type Receipt struct {
	To     string `json:"to"`
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// Response represents an incoming message from a participant.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"`
}
