// Package answer defines the answer-engine collaborator that produces
// candidate reply text for free-form questions.
package answer

import "context"

// Escalation is an engine-signaled request to hand the conversation to a
// human, e.g. on low retrieval confidence.
type Escalation struct {
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

// Reply is the engine's outcome for one question. Either Text is non-empty or
// Escalate is set; an empty reply is treated by the pipeline as "no answer".
type Reply struct {
	Text     string      `json:"text,omitempty"`
	Escalate *Escalation `json:"escalate,omitempty"`
}

// Engine produces answers for participant questions. Implementations own
// their timeout and retry policy; the pipeline treats any error as no result.
type Engine interface {
	Answer(ctx context.Context, participantID, text string) (Reply, error)
}
