// Package pipeline orchestrates inbound message processing for the election
// assistant. Every inbound event runs through a fixed, ordered sequence of
// policy gates; the first gate that reaches a terminal decision ends the run.
// A run produces at most one outbound reply and persists the inbound record
// exactly once.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/answer"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/escalation"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/flow"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
)

// DefaultRecentIDCapacity bounds the in-memory transport-id dedup set.
const DefaultRecentIDCapacity = 1024

// Opts holds configuration options for the pipeline.
type Opts struct {
	Observers        []Observer
	RecentIDCapacity int
}

// Option defines a configuration option for the pipeline.
type Option func(*Opts)

// WithObserver registers an additional event observer.
func WithObserver(o Observer) Option {
	return func(opts *Opts) { opts.Observers = append(opts.Observers, o) }
}

// WithRecentIDCapacity overrides the bounded dedup-set size.
func WithRecentIDCapacity(n int) Option {
	return func(opts *Opts) { opts.RecentIDCapacity = n }
}

// Pipeline runs the ordered gate sequence over one inbound message at a time
// per participant.
type Pipeline struct {
	store     store.Store
	gate      *schedule.Gate
	guard     *spam.Guard
	policy    *escalation.Policy
	flows     *flow.Engine
	answerer  answer.Engine
	registry  *registry
	recent    *recentIDs
	observers []Observer
}

// New creates a pipeline over its collaborators.
func New(st store.Store, gate *schedule.Gate, guard *spam.Guard, policy *escalation.Policy, flows *flow.Engine, answerer answer.Engine, opts ...Option) *Pipeline {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RecentIDCapacity <= 0 {
		cfg.RecentIDCapacity = DefaultRecentIDCapacity
	}
	if len(cfg.Observers) == 0 {
		cfg.Observers = []Observer{LoggingObserver{}}
	}
	return &Pipeline{
		store:     st,
		gate:      gate,
		guard:     guard,
		policy:    policy,
		flows:     flows,
		answerer:  answerer,
		registry:  newRegistry(st),
		recent:    newRecentIDs(cfg.RecentIDCapacity),
		observers: cfg.Observers,
	}
}

// run tracks per-invocation persistence so the inbound record is written
// exactly once no matter which gate terminates the turn.
type run struct {
	conv         *models.Conversation
	text         string
	meta         models.InboundMeta
	now          time.Time
	inboundSaved bool
}

// Process executes the gate sequence for one inbound message and returns the
// outbound reply text, or empty when the turn ends without an automated reply.
func (p *Pipeline) Process(ctx context.Context, participantID, text string, meta models.InboundMeta) (string, error) {
	if participantID == "" {
		return "", models.ErrEmptyParticipantID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.ErrEmptyBody
	}
	if len(text) > models.MaxMessageBodyLength {
		// Cut on a rune boundary so the persisted body stays valid UTF-8.
		cut := models.MaxMessageBodyLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	// Delivery-layer duplicates are dropped before touching any state: first
	// against the bounded in-memory set, then against the durable dedup table.
	if p.recent.observe(meta.MessageID) {
		slog.Debug("Duplicate transport id dropped", "participantID", participantID, "messageID", meta.MessageID)
		return "", nil
	}
	if meta.MessageID != "" {
		fresh, err := p.store.RecordInbound(meta.MessageID, participantID)
		if err != nil {
			slog.Warn("Inbound dedup record failed, continuing", "error", err, "participantID", participantID)
		} else if !fresh {
			slog.Debug("Duplicate transport id dropped by store", "participantID", participantID, "messageID", meta.MessageID)
			return "", nil
		}
	}

	lock := p.registry.lock(participantID)
	lock.Lock()
	defer lock.Unlock()

	now := p.gate.Now()
	conv, err := p.registry.getOrCreate(participantID, now)
	if err != nil {
		// Lookup failures abort the invocation with no state mutated.
		return "", fmt.Errorf("pipeline: %w", err)
	}
	conv.Touch(now)

	r := &run{conv: conv, text: text, meta: meta, now: now}
	reply, err := p.runGates(ctx, r)

	p.saveInbound(r)
	p.snapshot(conv)
	return reply, err
}

// runGates walks the fixed gate order and returns the chosen reply.
func (p *Pipeline) runGates(ctx context.Context, r *run) (string, error) {
	conv := r.conv

	// Gate 1: a deactivated bot never replies; a human owns the conversation.
	// The out-of-hours state is exempt so the next gate can lift it when the
	// service window reopens.
	if !conv.BotActive && conv.Status != models.StatusOutOfHours {
		slog.Debug("Bot inactive, persisting only", "participantID", conv.ParticipantID, "status", conv.Status)
		return "", nil
	}

	// Gate 2: service hours.
	if p.gate.IsOutOfHours() {
		notify := conv.MarkOutOfHours(r.now)
		if notify {
			return p.reply(r, MsgOutOfHours, models.MessageTypeOutOfHours), nil
		}
		slog.Debug("Out of hours, notice already sent this cycle", "participantID", conv.ParticipantID)
		return "", nil
	}
	if conv.Status == models.StatusOutOfHours {
		// The window reopened; hand the conversation back to the bot. The
		// greeting and consent turns still apply if they never happened.
		conv.Status = models.StatusActive
		conv.BotActive = true
		conv.WaitingForHuman = false
		conv.UpdatedAt = r.now
	}

	// Gate 3: unconditional greeting on the first replied-to contact. Content
	// is ignored and the answer engine is never consulted on this turn. The
	// flag lives on the aggregate so the turn never recurs once old records
	// are trimmed from the message window.
	if conv.GreetingSentAt.IsZero() {
		conv.MarkGreeted(r.now)
		return p.reply(r, MsgGreeting, models.MessageTypeGreeting), nil
	}

	// Gate 4: active guided flow.
	freeForm := false
	if conv.ActiveFlow != nil {
		res, err := p.flows.HandleInput(ctx, conv, r.text, r.now)
		switch {
		case err != nil:
			slog.Error("Flow dispatch failed, falling back to escalation", "error", err, "participantID", conv.ParticipantID)
			return p.escalate(r, escalation.ReasonNoAnswer, escalation.PriorityMedium), nil
		case res.Escalate:
			return p.escalate(r, res.EscalateReason, escalation.PriorityHigh), nil
		case res.FreeFormQuestion:
			// The menu is abandoned; the original question continues through
			// the remaining gates to the answer engine.
			freeForm = true
		case res.Message != "":
			return p.reply(r, res.Message, models.MessageTypeMenu), nil
		}
	}

	// Gate 5: per-number override, operator- or spam-initiated. Survives
	// restarts via the store.
	override, err := p.store.GetBotOverride(conv.ParticipantID)
	if err != nil {
		slog.Warn("Override lookup failed, continuing", "error", err, "participantID", conv.ParticipantID)
	} else if override != nil {
		slog.Debug("Override active, persisting only", "participantID", conv.ParticipantID, "source", override.Source)
		return "", nil
	}

	// Gate 6: spam guard. Blocking skips the answer engine entirely and sets a
	// durable system-initiated override.
	verdict := p.guard.Evaluate(conv.ParticipantID, r.text)
	if verdict.ShouldBlock {
		if err := p.store.SetBotOverride(store.BotOverride{
			ParticipantID: conv.ParticipantID,
			Source:        store.OverrideSourceSpam,
			Reason:        fmt.Sprintf("%d consecutive near-identical messages", verdict.ConsecutiveCount),
			CreatedAt:     r.now,
		}); err != nil {
			slog.Error("Failed to persist spam override", "error", err, "participantID", conv.ParticipantID)
		}
		p.notify(models.Event{Kind: models.EventSpamBlocked, ParticipantID: conv.ParticipantID, Body: r.text, Time: r.now})
		slog.Warn("Participant blocked for spam", "participantID", conv.ParticipantID, "consecutiveCount", verdict.ConsecutiveCount)
		return "", nil
	}
	if verdict.IsSpam {
		slog.Warn("Repeated message detected", "participantID", conv.ParticipantID, "consecutiveCount", verdict.ConsecutiveCount, "similarity", verdict.Similarity)
	}

	// Gate 7: consent. The message after the greeting triggers the prompt;
	// later messages while consent is pending are read as accept or decline.
	// Declining never gates service.
	if conv.ConsentStatus == models.ConsentPending {
		if conv.ConsentPromptSentAt.IsZero() {
			conv.MarkConsentPrompted(r.now)
			return p.reply(r, MsgConsentPrompt, models.MessageTypeConsentPrompt), nil
		}
		if isConsentAccept(r.text) {
			conv.AcceptConsent(r.now)
			conv.Status = models.StatusActive
			return p.reply(r, MsgConsentAccepted, models.MessageTypeText), nil
		}
		conv.NoteConsent(r.now)
		conv.Status = models.StatusActive
		// Fall through: the message itself is handled normally.
	}

	// Gate 8: once escalated, stay silent until a human or a reset intervenes.
	if conv.WaitingForHuman || conv.EscalationMessageSent {
		slog.Debug("Waiting for human, persisting only", "participantID", conv.ParticipantID)
		return "", nil
	}

	// Gate 9: escalation policy. A fresh reactivation suppresses exactly one
	// non-explicit evaluation.
	bypass := conv.ConsumeReactivationGrace()
	if res := p.policy.Evaluate(conv.ParticipantID, r.text, conv.InteractionCount, bypass); res.NeedsHuman {
		return p.escalate(r, res.Reason, res.Priority), nil
	}

	// Menu trigger: start the guided options flow instead of free-form answering.
	if !freeForm && isMenuRequest(r.text) {
		prompt, err := p.flows.StartFlow(conv, flow.FlowTypeElectionInfo, r.now)
		if err != nil {
			slog.Error("Failed to start menu flow", "error", err, "participantID", conv.ParticipantID)
		} else {
			return p.reply(r, prompt, models.MessageTypeMenu), nil
		}
	}

	// Gate 10: answer engine.
	reply, err := p.answerer.Answer(ctx, conv.ParticipantID, r.text)
	if err != nil {
		// Gate 11: collaborator failures become the fallback escalation; the
		// participant never sees silence or a raw error.
		slog.Error("Answer engine failed, falling back to escalation", "error", err, "participantID", conv.ParticipantID)
		return p.escalate(r, escalation.ReasonNoAnswer, escalation.PriorityMedium), nil
	}
	if reply.Escalate != nil {
		return p.escalate(r, reply.Escalate.Reason, reply.Escalate.Priority), nil
	}
	if reply.Text == "" {
		return p.escalate(r, escalation.ReasonNoAnswer, escalation.PriorityMedium), nil
	}
	return p.reply(r, reply.Text, models.MessageTypeAnswer), nil
}

// escalate transitions the conversation to the pending-advisor state and
// returns the fixed hand-off message, at most once per escalation episode.
func (p *Pipeline) escalate(r *run, reason, priority string) string {
	conv := r.conv
	if conv.EscalationMessageSent {
		return ""
	}
	conv.MarkEscalated(reason, r.now)
	p.notify(models.Event{Kind: models.EventEscalationDetected, ParticipantID: conv.ParticipantID, Reason: reason, Time: r.now})
	slog.Info("Conversation escalated", "participantID", conv.ParticipantID, "reason", reason, "priority", priority)
	return p.reply(r, MsgEscalation, models.MessageTypeEscalation)
}

// reply persists the inbound/outbound pair and returns the outbound text.
// Persistence is best-effort: a failed write is logged, never surfaced.
func (p *Pipeline) reply(r *run, text string, msgType models.MessageType) string {
	p.saveInbound(r)
	rec := models.MessageRecord{
		ID:            uuid.NewString(),
		ParticipantID: r.conv.ParticipantID,
		Direction:     models.DirectionOut,
		Role:          models.RoleBot,
		Type:          msgType,
		Body:          text,
		Timestamp:     r.now,
	}
	r.conv.AppendMessage(rec)
	if _, err := p.store.AppendMessage(rec); err != nil {
		slog.Error("Failed to persist outbound message", "error", err, "participantID", r.conv.ParticipantID)
	}
	p.notify(models.Event{Kind: models.EventNewMessage, ParticipantID: r.conv.ParticipantID, Body: text, Time: r.now})
	return text
}

// saveInbound writes the inbound record once per invocation.
func (p *Pipeline) saveInbound(r *run) {
	if r.inboundSaved {
		return
	}
	r.inboundSaved = true
	rec := models.MessageRecord{
		ID:            uuid.NewString(),
		ParticipantID: r.conv.ParticipantID,
		Direction:     models.DirectionIn,
		Role:          models.RoleUser,
		Type:          models.MessageTypeText,
		Body:          r.text,
		Timestamp:     r.now,
	}
	r.conv.AppendMessage(rec)
	if _, err := p.store.AppendMessage(rec); err != nil {
		slog.Error("Failed to persist inbound message", "error", err, "participantID", r.conv.ParticipantID)
	}
}

// snapshot upserts the conversation for restart recovery, best-effort.
func (p *Pipeline) snapshot(conv *models.Conversation) {
	if err := p.store.SaveConversation(*conv); err != nil {
		slog.Error("Failed to persist conversation snapshot", "error", err, "participantID", conv.ParticipantID)
	}
}

// isConsentAccept reports whether the text is an affirmative consent answer.
func isConsentAccept(text string) bool {
	normalized := spam.Normalize(text)
	for _, w := range consentAcceptWords {
		if normalized == spam.Normalize(w) {
			return true
		}
	}
	return false
}

// isMenuRequest reports whether the text asks for the guided options menu.
func isMenuRequest(text string) bool {
	n := spam.Normalize(text)
	return n == "menu" || n == "opciones" || n == "ver opciones"
}
