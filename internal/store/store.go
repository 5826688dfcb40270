// Package store provides durable storage backends for the election assistant.
//
// It persists the message log (idempotent by record id), inbound transport
// dedup records, bot-override flags, conversation snapshots, and the holiday
// calendar. SQLite and PostgreSQL backends share one interface; an in-memory
// implementation backs tests.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
)

// Override sources.
const (
	// OverrideSourceManual marks an operator-set deactivation.
	OverrideSourceManual = "manual"
	// OverrideSourceSpam marks the spam guard's automatic deactivation.
	OverrideSourceSpam = "spam"
)

// BotOverride is a restart-surviving per-number deactivation of automated
// replies. Manual and spam-initiated overrides are separately reversible.
type BotOverride struct {
	ParticipantID string    `json:"participant_id"`
	Source        string    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the durable-log collaborator consumed by the pipeline.
type Store interface {
	// AppendMessage writes a message record once. It returns false without
	// error when a record with the same id already exists.
	AppendMessage(rec models.MessageRecord) (bool, error)

	// GetMessages returns the most recent records for a participant, oldest
	// first, up to limit (0 means no limit).
	GetMessages(participantID string, limit int) ([]models.MessageRecord, error)

	// RecordInbound registers a transport message id. It returns false when
	// the id was already seen (delivery-layer duplicate).
	RecordInbound(messageID, participantID string) (bool, error)

	// SetBotOverride disables automated replies for a participant.
	SetBotOverride(override BotOverride) error

	// ClearBotOverride removes an override for the given source. An empty
	// source clears any override.
	ClearBotOverride(participantID, source string) error

	// GetBotOverride returns the active override, or nil when none is set.
	GetBotOverride(participantID string) (*BotOverride, error)

	// SaveConversation upserts a conversation snapshot for restart recovery.
	SaveConversation(conv models.Conversation) error

	// GetConversation loads a snapshot, or nil when none exists.
	GetConversation(participantID string) (*models.Conversation, error)

	// ListConversations returns all snapshots, most recently updated first.
	ListConversations() ([]models.Conversation, error)

	// SaveSetting upserts a named settings document.
	SaveSetting(key, value string) error

	// GetSetting returns a settings document, or empty when absent.
	GetSetting(key string) (string, error)

	// ListHolidays returns the holiday calendar entries.
	ListHolidays() ([]schedule.Holiday, error)

	// IsHoliday reports whether the date matches an active holiday entry.
	// Satisfies schedule.HolidaySource.
	IsHoliday(date time.Time) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" so the caller can
// pick a backend without a separate driver flag.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// unmarshalConversation decodes a stored conversation snapshot.
func unmarshalConversation(data string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation snapshot: %w", err)
	}
	return &conv, nil
}

// nilIfEmpty maps an empty string to SQL NULL.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// matchesHoliday is the shared holiday predicate for all backends.
func matchesHoliday(entries []schedule.Holiday, date time.Time) bool {
	for _, h := range entries {
		if h.Matches(date) {
			return true
		}
	}
	return false
}
