// Package escalation decides when a conversation must be handed to a human
// advisor based on the message text and conversation counters.
package escalation

import (
	"log/slog"
	"strings"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
)

// Escalation reasons, in the priority order the rules run.
const (
	ReasonExplicitRequest = "explicit_request"
	ReasonComplexTopic    = "complex_topic"
	ReasonConfusion       = "confusion"
	// ReasonNoAnswer marks the pipeline's fallback when the answer engine
	// produced nothing usable.
	ReasonNoAnswer = "no_answer"
)

// Priority levels attached to escalation results.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// Result is the outcome of one evaluation.
type Result struct {
	NeedsHuman bool   `json:"needs_human"`
	Reason     string `json:"reason,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// Default keyword lists. All entries are pre-normalized (lowercase, no
// accents) and compared against spam.Normalize output, so "quéja" and
// "queja" match alike.
var (
	defaultExplicitPhrases = []string{
		"hablar con un asesor",
		"hablar con una persona",
		"atencion humana",
		"servicio al cliente",
	}
	defaultIntentVerbs = []string{
		"quiero", "necesito", "deseo", "comunicame", "comuniqueme",
		"conectame", "conecteme", "pasame", "paseme", "llamame",
	}
	defaultRoleNouns = []string{
		"asesor", "asesora", "agente", "humano", "persona", "funcionario",
	}
	defaultComplexTopics = []string{
		"queja", "reclamo", "error", "problema", "urgente", "fraude",
		"denuncia", "inconformidad", "demanda", "tutela",
	}
	defaultConfusionPhrases = []string{
		"no entiendo", "no entendi", "no comprendo", "no me queda claro",
		"estoy confundido", "estoy confundida", "explicame mejor",
		"expliqueme mejor", "explica mejor",
	}
)

// Opts holds configuration options for the policy.
type Opts struct {
	ExplicitPhrases  []string
	IntentVerbs      []string
	RoleNouns        []string
	ComplexTopics    []string
	ConfusionPhrases []string
}

// Option defines a configuration option for the policy.
type Option func(*Opts)

// WithComplexTopics replaces the sensitive-topic keyword list.
func WithComplexTopics(topics ...string) Option {
	return func(o *Opts) { o.ComplexTopics = topics }
}

// WithExplicitPhrases replaces the exact human-request phrase list.
func WithExplicitPhrases(phrases ...string) Option {
	return func(o *Opts) { o.ExplicitPhrases = phrases }
}

// Policy is a pure rule evaluator; it holds only its keyword configuration.
type Policy struct {
	opts Opts
}

// NewPolicy creates a policy with the default keyword lists, applying any
// provided options.
func NewPolicy(opts ...Option) *Policy {
	cfg := Opts{
		ExplicitPhrases:  defaultExplicitPhrases,
		IntentVerbs:      defaultIntentVerbs,
		RoleNouns:        defaultRoleNouns,
		ComplexTopics:    defaultComplexTopics,
		ConfusionPhrases: defaultConfusionPhrases,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Policy{opts: cfg}
}

// Evaluate runs the rules in priority order, stopping at the first match.
// When bypassNonExplicit is true (the single-use grace window after a human
// hands the conversation back), only explicit human requests escalate.
func (p *Policy) Evaluate(participantID, text string, interactionCount int, bypassNonExplicit bool) Result {
	normalized := spam.Normalize(text)

	if p.isExplicitRequest(normalized) {
		slog.Info("EscalationPolicy explicit human request", "participantID", participantID, "interactions", interactionCount)
		return Result{NeedsHuman: true, Reason: ReasonExplicitRequest, Priority: PriorityHigh}
	}

	if bypassNonExplicit {
		slog.Debug("EscalationPolicy non-explicit rules bypassed after reactivation", "participantID", participantID)
		return Result{}
	}

	for _, topic := range p.opts.ComplexTopics {
		if containsWord(normalized, topic) {
			slog.Info("EscalationPolicy complex topic", "participantID", participantID, "topic", topic)
			return Result{NeedsHuman: true, Reason: ReasonComplexTopic, Priority: PriorityHigh}
		}
	}

	for _, phrase := range p.opts.ConfusionPhrases {
		if strings.Contains(normalized, phrase) {
			slog.Info("EscalationPolicy confusion detected", "participantID", participantID, "phrase", phrase)
			return Result{NeedsHuman: true, Reason: ReasonConfusion, Priority: PriorityMedium}
		}
	}

	return Result{}
}

// isExplicitRequest matches exact phrases plus the flexible combination of an
// intent verb with a role noun anywhere in the message.
func (p *Policy) isExplicitRequest(normalized string) bool {
	for _, phrase := range p.opts.ExplicitPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}

	hasVerb := false
	for _, verb := range p.opts.IntentVerbs {
		if containsWord(normalized, verb) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return false
	}
	for _, noun := range p.opts.RoleNouns {
		if containsWord(normalized, noun) {
			return true
		}
	}
	return false
}

// containsWord reports whether w appears as a whole word in normalized text.
func containsWord(normalized, w string) bool {
	for _, field := range strings.Fields(normalized) {
		if field == w {
			return true
		}
	}
	return false
}
