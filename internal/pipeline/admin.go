package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
)

// Operator-facing operations. These run under the same per-participant locks
// as Process, so advisor actions never race a pipeline run.

// Conversations returns all known conversation snapshots.
func (p *Pipeline) Conversations() ([]models.Conversation, error) {
	return p.store.ListConversations()
}

// Conversation returns one participant's conversation, or nil when unknown.
func (p *Pipeline) Conversation(participantID string) (*models.Conversation, error) {
	lock := p.registry.lock(participantID)
	lock.Lock()
	defer lock.Unlock()
	conv, err := p.registry.get(participantID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	snapshot := *conv
	return &snapshot, nil
}

// SetBotActive enables or disables automated replies for a participant.
// Disabling sets a manual override; enabling clears it.
func (p *Pipeline) SetBotActive(participantID string, active bool, reason string) error {
	lock := p.registry.lock(participantID)
	lock.Lock()
	defer lock.Unlock()

	now := p.gate.Now()
	conv, err := p.registry.getOrCreate(participantID, now)
	if err != nil {
		return err
	}

	if active {
		if err := p.store.ClearBotOverride(participantID, store.OverrideSourceManual); err != nil {
			return fmt.Errorf("failed to clear override: %w", err)
		}
		conv.BotActive = true
		if conv.Status == models.StatusAdvisorHandled || conv.Status == models.StatusPendingAdvisor {
			conv.Status = models.StatusActive
		}
	} else {
		if err := p.store.SetBotOverride(store.BotOverride{
			ParticipantID: participantID,
			Source:        store.OverrideSourceManual,
			Reason:        reason,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to set override: %w", err)
		}
		conv.BotActive = false
		conv.Status = models.StatusAdvisorHandled
	}
	conv.UpdatedAt = now
	p.snapshot(conv)
	slog.Info("Bot activity changed", "participantID", participantID, "active", active)
	return nil
}

// Reactivate hands an escalated conversation back to the bot with the
// single-use escalation grace, clearing any override and the spam state.
func (p *Pipeline) Reactivate(participantID string) error {
	lock := p.registry.lock(participantID)
	lock.Lock()
	defer lock.Unlock()

	now := p.gate.Now()
	conv, err := p.registry.getOrCreate(participantID, now)
	if err != nil {
		return err
	}

	if err := p.store.ClearBotOverride(participantID, ""); err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	p.guard.Reset(participantID)
	conv.Reactivate(now)
	p.snapshot(conv)
	slog.Info("Conversation reactivated", "participantID", participantID)
	return nil
}

// Restore warms the conversation cache from stored snapshots. Called once at
// startup so advisor-handled and escalated conversations are visible to the
// maintenance jobs immediately, not only after the participant writes again.
func (p *Pipeline) Restore() (int, error) {
	convs, err := p.store.ListConversations()
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	n := 0
	p.registry.mu.Lock()
	for i := range convs {
		conv := convs[i]
		if _, ok := p.registry.convs[conv.ParticipantID]; ok {
			continue
		}
		p.registry.convs[conv.ParticipantID] = &conv
		n++
	}
	p.registry.mu.Unlock()
	slog.Info("Conversation state restored", "conversations", n)
	return n, nil
}

// ResetNoticeCycle clears the out-of-hours notice markers on all cached
// conversations. Run by the daily maintenance job at midnight in the service
// zone so a new day starts with a clean notice cycle.
func (p *Pipeline) ResetNoticeCycle() int {
	p.registry.mu.Lock()
	defer p.registry.mu.Unlock()
	n := 0
	for _, conv := range p.registry.convs {
		if !conv.OutOfHoursNotifiedAt.IsZero() {
			conv.OutOfHoursNotifiedAt = time.Time{}
			n++
		}
	}
	if n > 0 {
		slog.Info("Out-of-hours notice cycle reset", "conversations", n)
	}
	return n
}

// SweepSpamState drops spam tracking for participants idle longer than ttl.
func (p *Pipeline) SweepSpamState(ttl time.Duration) int {
	return p.guard.SweepIdle(ttl)
}

// ScheduleGate exposes the schedule gate for operator settings endpoints.
func (p *Pipeline) ScheduleGate() *schedule.Gate {
	return p.gate
}

// scheduleSettingsKey names the persisted schedule-settings document.
const scheduleSettingsKey = "schedule"

// SaveScheduleSettings persists the gate's current runtime settings so
// operator changes survive a restart.
func (p *Pipeline) SaveScheduleSettings() error {
	data, err := json.Marshal(p.gate.Settings())
	if err != nil {
		return fmt.Errorf("failed to marshal schedule settings: %w", err)
	}
	if err := p.store.SaveSetting(scheduleSettingsKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist schedule settings: %w", err)
	}
	return nil
}

// LoadScheduleSettings applies persisted schedule settings to the gate.
// The timezone stays a boot-time setting and is not overridden here.
func (p *Pipeline) LoadScheduleSettings() error {
	raw, err := p.store.GetSetting(scheduleSettingsKey)
	if err != nil {
		return fmt.Errorf("failed to load schedule settings: %w", err)
	}
	if raw == "" {
		return nil
	}
	var s schedule.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("failed to unmarshal schedule settings: %w", err)
	}
	p.gate.SetTimetableEnabled(s.TimetableEnabled)
	p.gate.SetHolidayCheckEnabled(s.HolidaysEnabled)
	p.gate.SetTimetable(s.Timetable)
	slog.Info("Schedule settings restored from store")
	return nil
}
