package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AppendMessage(rec models.MessageRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`INSERT INTO messages (id, participant_id, direction, role, type, body, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ParticipantID, rec.Direction, rec.Role, rec.Type, rec.Body, rec.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "id", rec.ID)
		return false, fmt.Errorf("failed to insert message %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) GetMessages(participantID string, limit int) ([]models.MessageRecord, error) {
	query := `SELECT id, participant_id, direction, role, type, body, timestamp FROM messages WHERE participant_id = $1 ORDER BY timestamp`
	args := []interface{}{participantID}
	if limit > 0 {
		query = `SELECT id, participant_id, direction, role, type, body, timestamp FROM (
			SELECT id, participant_id, direction, role, type, body, timestamp FROM messages WHERE participant_id = $1 ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp`
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

func (s *PostgresStore) RecordInbound(messageID, participantID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, participant_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) SetBotOverride(override BotOverride) error {
	createdAt := override.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO bot_overrides (participant_id, source, reason, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant_id) DO UPDATE SET source = EXCLUDED.source, reason = EXCLUDED.reason, created_at = EXCLUDED.created_at`,
		override.ParticipantID, override.Source, nilIfEmpty(override.Reason), createdAt,
	)
	if err != nil {
		slog.Error("PostgresStore SetBotOverride failed", "error", err, "participantID", override.ParticipantID)
		return fmt.Errorf("failed to set override for %s: %w", override.ParticipantID, err)
	}
	return nil
}

func (s *PostgresStore) ClearBotOverride(participantID, source string) error {
	var err error
	if source == "" {
		_, err = s.db.Exec(`DELETE FROM bot_overrides WHERE participant_id = $1`, participantID)
	} else {
		_, err = s.db.Exec(`DELETE FROM bot_overrides WHERE participant_id = $1 AND source = $2`, participantID, source)
	}
	if err != nil {
		return fmt.Errorf("failed to clear override for %s: %w", participantID, err)
	}
	return nil
}

func (s *PostgresStore) GetBotOverride(participantID string) (*BotOverride, error) {
	var o BotOverride
	var reason sql.NullString
	err := s.db.QueryRow(
		`SELECT participant_id, source, reason, created_at FROM bot_overrides WHERE participant_id = $1`,
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

func (s *PostgresStore) SaveConversation(conv models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", conv.ParticipantID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (participant_id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (participant_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		conv.ParticipantID, string(data), conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "participantID", conv.ParticipantID)
		return fmt.Errorf("failed to save conversation %s: %w", conv.ParticipantID, err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(participantID string) (*models.Conversation, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM conversations WHERE participant_id = $1`, participantID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", participantID, err)
	}
	return unmarshalConversation(data)
}

func (s *PostgresStore) ListConversations() ([]models.Conversation, error) {
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

func (s *PostgresStore) SaveSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) ListHolidays() ([]schedule.Holiday, error) {
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

func (s *PostgresStore) IsHoliday(date time.Time) (bool, error) {
	entries, err := s.ListHolidays()
	if err != nil {
		return false, err
	}
	return matchesHoliday(entries, date), nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
