package models

import "time"

// Conversation is the mutable, long-lived aggregate for one participant.
//
// A conversation is only ever mutated by one pipeline run at a time; the
// registry in the pipeline package serializes access per participant id.
type Conversation struct {
	ParticipantID string             `json:"participant_id"`
	Status        ConversationStatus `json:"status"`
	// BotActive gates all automated replies. It is false whenever a human owns
	// the conversation, an override is set, or service hours exclude replies.
	BotActive     bool          `json:"bot_active"`
	ConsentStatus ConsentStatus `json:"consent_status"`

	InteractionCount  int       `json:"interaction_count"`
	LastInteractionAt time.Time `json:"last_interaction_at"`

	NeedsHuman            bool   `json:"needs_human"`
	NeedsHumanReason      string `json:"needs_human_reason,omitempty"`
	EscalationMessageSent bool   `json:"escalation_message_sent"`
	WaitingForHuman       bool   `json:"waiting_for_human"`
	// ManuallyReactivated is a single-use grace flag set when an advisor hands
	// the conversation back to the bot. It suppresses the next non-explicit
	// escalation evaluation, then clears itself.
	ManuallyReactivated bool `json:"manually_reactivated"`

	// GreetingSentAt and ConsentPromptSentAt record the once-per-conversation
	// opening turns. They live on the aggregate, not in the bounded message
	// window, so the turns never recur after old records are trimmed.
	GreetingSentAt      time.Time `json:"greeting_sent_at,omitempty"`
	ConsentPromptSentAt time.Time `json:"consent_prompt_sent_at,omitempty"`

	// OutOfHoursNotifiedAt records when the out-of-hours notice was last sent,
	// so it goes out at most once per service cycle (calendar day).
	OutOfHoursNotifiedAt time.Time `json:"out_of_hours_notified_at,omitempty"`

	// ActiveFlow holds at most one guided flow instance. Owning it here keeps
	// flow state and conversation state updated together.
	ActiveFlow *GuidedFlow `json:"active_flow,omitempty"`

	// Messages is the bounded recent window; the full history is in the store.
	Messages []MessageRecord `json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation in its initial state.
func NewConversation(participantID string, now time.Time) *Conversation {
	return &Conversation{
		ParticipantID: participantID,
		Status:        StatusAwaitingGreeting,
		BotActive:     true,
		ConsentStatus: ConsentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch records one inbound interaction.
func (c *Conversation) Touch(now time.Time) {
	c.InteractionCount++
	c.LastInteractionAt = now
	c.UpdatedAt = now
}

// AppendMessage appends a record to the recent window, trimming to the
// configured bound from the front.
func (c *Conversation) AppendMessage(rec MessageRecord) {
	c.Messages = append(c.Messages, rec)
	if len(c.Messages) > MaxRecentMessages {
		c.Messages = c.Messages[len(c.Messages)-MaxRecentMessages:]
	}
}

// MarkGreeted records the greeting turn and moves the conversation on to
// awaiting consent.
func (c *Conversation) MarkGreeted(now time.Time) {
	c.GreetingSentAt = now
	c.Status = StatusAwaitingConsent
	c.UpdatedAt = now
}

// MarkConsentPrompted records that the consent prompt went out.
func (c *Conversation) MarkConsentPrompted(now time.Time) {
	c.ConsentPromptSentAt = now
	c.UpdatedAt = now
}

// MarkEscalated transitions the conversation to the pending-advisor state.
// The escalation message flag implies WaitingForHuman.
func (c *Conversation) MarkEscalated(reason string, now time.Time) {
	c.NeedsHuman = true
	c.NeedsHumanReason = reason
	c.EscalationMessageSent = true
	c.WaitingForHuman = true
	c.Status = StatusPendingAdvisor
	c.BotActive = false
	c.UpdatedAt = now
}

// MarkAdvisorHandled records that a human advisor has taken over.
func (c *Conversation) MarkAdvisorHandled(now time.Time) {
	c.Status = StatusAdvisorHandled
	c.BotActive = false
	c.WaitingForHuman = false
	c.UpdatedAt = now
}

// Reactivate hands the conversation back to the bot after human handling.
// The grace flag suppresses exactly the next non-explicit escalation check.
func (c *Conversation) Reactivate(now time.Time) {
	c.Status = StatusActive
	c.BotActive = true
	c.NeedsHuman = false
	c.NeedsHumanReason = ""
	c.EscalationMessageSent = false
	c.WaitingForHuman = false
	c.ManuallyReactivated = true
	c.UpdatedAt = now
}

// MarkOutOfHours records an out-of-hours inbound and whether the notice for
// the current cycle was already sent. Returns true if the notice should go out.
func (c *Conversation) MarkOutOfHours(now time.Time) bool {
	c.Status = StatusOutOfHours
	c.BotActive = false
	c.WaitingForHuman = true
	c.UpdatedAt = now
	if sameCycleDay(c.OutOfHoursNotifiedAt, now) {
		return false
	}
	c.OutOfHoursNotifiedAt = now
	return true
}

// Reset returns the conversation to a clean slate. This is the only path that
// regresses consent.
func (c *Conversation) Reset(now time.Time) {
	c.Status = StatusAwaitingGreeting
	c.BotActive = true
	c.ConsentStatus = ConsentPending
	c.InteractionCount = 0
	c.NeedsHuman = false
	c.NeedsHumanReason = ""
	c.EscalationMessageSent = false
	c.WaitingForHuman = false
	c.ManuallyReactivated = false
	c.GreetingSentAt = time.Time{}
	c.ConsentPromptSentAt = time.Time{}
	c.OutOfHoursNotifiedAt = time.Time{}
	c.ActiveFlow = nil
	c.UpdatedAt = now
}

// AcceptConsent moves consent forward to accepted. Pending is the only state
// it transitions from; consent never regresses.
func (c *Conversation) AcceptConsent(now time.Time) {
	if c.ConsentStatus == ConsentPending {
		c.ConsentStatus = ConsentAccepted
		c.UpdatedAt = now
	}
}

// NoteConsent records a non-acceptance answer to the consent prompt.
func (c *Conversation) NoteConsent(now time.Time) {
	if c.ConsentStatus == ConsentPending {
		c.ConsentStatus = ConsentNoted
		c.UpdatedAt = now
	}
}

// ConsumeReactivationGrace reports whether the single-use grace window is
// active and clears it.
func (c *Conversation) ConsumeReactivationGrace() bool {
	if !c.ManuallyReactivated {
		return false
	}
	c.ManuallyReactivated = false
	return true
}

// sameCycleDay reports whether two instants fall on the same calendar day in
// the same location. Zero times never match.
func sameCycleDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
