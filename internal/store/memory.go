package store

import (
	"sync"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
)

// InMemoryStore is a Store for tests and ephemeral deployments.
type InMemoryStore struct {
	mu            sync.RWMutex
	messages      []models.MessageRecord
	messageIDs    map[string]bool
	inboundIDs    map[string]bool
	overrides     map[string]BotOverride
	conversations map[string]models.Conversation
	settings      map[string]string
	holidays      []schedule.Holiday
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messageIDs:    make(map[string]bool),
		inboundIDs:    make(map[string]bool),
		overrides:     make(map[string]BotOverride),
		conversations: make(map[string]models.Conversation),
		settings:      make(map[string]string),
	}
}

func (s *InMemoryStore) AppendMessage(rec models.MessageRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageIDs[rec.ID] {
		return false, nil
	}
	s.messageIDs[rec.ID] = true
	s.messages = append(s.messages, rec)
	return true, nil
}

func (s *InMemoryStore) GetMessages(participantID string, limit int) ([]models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageRecord
	for _, m := range s.messages {
		if m.ParticipantID == participantID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) RecordInbound(messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboundIDs[messageID] {
		return false, nil
	}
	s.inboundIDs[messageID] = true
	return true, nil
}

func (s *InMemoryStore) SetBotOverride(override BotOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if override.CreatedAt.IsZero() {
		override.CreatedAt = time.Now()
	}
	s.overrides[override.ParticipantID] = override
	return nil
}

func (s *InMemoryStore) ClearBotOverride(participantID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.overrides[participantID]; ok {
		if source == "" || existing.Source == source {
			delete(s.overrides, participantID)
		}
	}
	return nil
}

func (s *InMemoryStore) GetBotOverride(participantID string) (*BotOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.overrides[participantID]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveConversation(conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ParticipantID] = conv
	return nil
}

func (s *InMemoryStore) GetConversation(participantID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[participantID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListConversations() ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemoryStore) SaveSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

// SetHolidays replaces the in-memory holiday calendar.
func (s *InMemoryStore) SetHolidays(entries []schedule.Holiday) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays = entries
}

func (s *InMemoryStore) ListHolidays() ([]schedule.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.Holiday, len(s.holidays))
	copy(out, s.holidays)
	return out, nil
}

func (s *InMemoryStore) IsHoliday(date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchesHoliday(s.holidays, date), nil
}

func (s *InMemoryStore) Close() error { return nil }
