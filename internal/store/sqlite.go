// Package store provides durable storage backends for the election assistant.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendMessage(rec models.MessageRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, participant_id, direction, role, type, body, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ParticipantID, rec.Direction, rec.Role, rec.Type, rec.Body, rec.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "id", rec.ID)
		return false, fmt.Errorf("failed to insert message %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetMessages(participantID string, limit int) ([]models.MessageRecord, error) {
	query := `SELECT id, participant_id, direction, role, type, body, timestamp FROM messages WHERE participant_id = ? ORDER BY timestamp`
	args := []interface{}{participantID}
	if limit > 0 {
		query = `SELECT id, participant_id, direction, role, type, body, timestamp FROM (
			SELECT id, participant_id, direction, role, type, body, timestamp FROM messages WHERE participant_id = ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageRecord
	for rows.Next() {
		var m models.MessageRecord
		if err := rows.Scan(&m.ID, &m.ParticipantID, &m.Direction, &m.Role, &m.Type, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) RecordInbound(messageID, participantID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, participant_id, received_at) VALUES (?, ?, ?)`,
		messageID, participantID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetBotOverride(override BotOverride) error {
	createdAt := override.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO bot_overrides (participant_id, source, reason, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(participant_id) DO UPDATE SET source = excluded.source, reason = excluded.reason, created_at = excluded.created_at`,
		override.ParticipantID, override.Source, nilIfEmpty(override.Reason), createdAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SetBotOverride failed", "error", err, "participantID", override.ParticipantID)
		return fmt.Errorf("failed to set override for %s: %w", override.ParticipantID, err)
	}
	slog.Debug("SQLiteStore SetBotOverride succeeded", "participantID", override.ParticipantID, "source", override.Source)
	return nil
}

func (s *SQLiteStore) ClearBotOverride(participantID, source string) error {
	var err error
	if source == "" {
		_, err = s.db.Exec(`DELETE FROM bot_overrides WHERE participant_id = ?`, participantID)
	} else {
		_, err = s.db.Exec(`DELETE FROM bot_overrides WHERE participant_id = ? AND source = ?`, participantID, source)
	}
	if err != nil {
		return fmt.Errorf("failed to clear override for %s: %w", participantID, err)
	}
	return nil
}

func (s *SQLiteStore) GetBotOverride(participantID string) (*BotOverride, error) {
	var o BotOverride
	var reason sql.NullString
	err := s.db.QueryRow(
		`SELECT participant_id, source, reason, created_at FROM bot_overrides WHERE participant_id = ?`,
		participantID,
	).Scan(&o.ParticipantID, &o.Source, &reason, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query override for %s: %w", participantID, err)
	}
	o.Reason = reason.String
	return &o, nil
}

func (s *SQLiteStore) SaveConversation(conv models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", conv.ParticipantID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (participant_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(participant_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		conv.ParticipantID, string(data), conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "participantID", conv.ParticipantID)
		return fmt.Errorf("failed to save conversation %s: %w", conv.ParticipantID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(participantID string) (*models.Conversation, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM conversations WHERE participant_id = ?`, participantID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", participantID, err)
	}
	return unmarshalConversation(data)
}

func (s *SQLiteStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT data FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conv, err := unmarshalConversation(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) ListHolidays() ([]schedule.Holiday, error) {
	rows, err := s.db.Query(`SELECT id, name, month, day, year, active FROM holidays`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []schedule.Holiday
	for rows.Next() {
		var h schedule.Holiday
		if err := rows.Scan(&h.ID, &h.Name, &h.Month, &h.Day, &h.Year, &h.Active); err != nil {
			return nil, fmt.Errorf("failed to scan holiday row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holiday rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) IsHoliday(date time.Time) (bool, error) {
	entries, err := s.ListHolidays()
	if err != nil {
		return false, err
	}
	return matchesHoliday(entries, date), nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
