// Package spam detects runs of near-identical consecutive messages per
// participant so the pipeline can skip the answer engine at zero cost.
package spam

import (
	"log/slog"
	"sync"
	"time"
)

// Default thresholds. The block threshold is one more than the warn threshold.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultWarnThreshold       = 3
	DefaultBlockThreshold      = DefaultWarnThreshold + 1
)

// Verdict is the result of evaluating one inbound message.
type Verdict struct {
	IsSpam           bool    `json:"is_spam"`
	ShouldBlock      bool    `json:"should_block"`
	ConsecutiveCount int     `json:"consecutive_count"`
	Similarity       float64 `json:"similarity"`
}

// Opts holds configuration options for the spam guard.
type Opts struct {
	SimilarityThreshold float64
	WarnThreshold       int
	BlockThreshold      int
}

// Option defines a configuration option for the spam guard.
type Option func(*Opts)

// WithSimilarityThreshold sets the Dice-coefficient threshold for a repeat.
func WithSimilarityThreshold(threshold float64) Option {
	return func(o *Opts) { o.SimilarityThreshold = threshold }
}

// WithWarnThreshold sets the run length that logs a warning. The block
// threshold follows one above it unless set explicitly.
func WithWarnThreshold(n int) Option {
	return func(o *Opts) { o.WarnThreshold = n }
}

// WithBlockThreshold sets the run length that blocks the participant.
func WithBlockThreshold(n int) Option {
	return func(o *Opts) { o.BlockThreshold = n }
}

// state is the ephemeral per-participant rolling record.
type state struct {
	lastNormalized string
	consecutive    int
	blocked        bool
	lastSeen       time.Time
}

// Guard tracks consecutive-repeat runs per participant.
type Guard struct {
	mu     sync.Mutex
	states map[string]*state
	opts   Opts
}

// NewGuard creates a spam guard, applying any provided options.
func NewGuard(opts ...Option) *Guard {
	cfg := Opts{
		SimilarityThreshold: DefaultSimilarityThreshold,
		WarnThreshold:       DefaultWarnThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = cfg.WarnThreshold + 1
	}
	return &Guard{states: make(map[string]*state), opts: cfg}
}

// Evaluate classifies one inbound message. The run counter resets to 1 on any
// message below the similarity threshold.
func (g *Guard) Evaluate(participantID, text string) Verdict {
	normalized := Normalize(text)
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[participantID]
	if !ok {
		st = &state{}
		g.states[participantID] = st
	}

	sim := 0.0
	if st.lastNormalized != "" {
		sim = Similarity(st.lastNormalized, normalized)
	}

	if st.lastNormalized != "" && sim >= g.opts.SimilarityThreshold {
		st.consecutive++
	} else {
		st.consecutive = 1
		st.blocked = false
	}
	st.lastNormalized = normalized
	st.lastSeen = now

	verdict := Verdict{
		IsSpam:           st.consecutive >= g.opts.WarnThreshold,
		ShouldBlock:      st.consecutive >= g.opts.BlockThreshold,
		ConsecutiveCount: st.consecutive,
		Similarity:       sim,
	}
	if verdict.ShouldBlock {
		st.blocked = true
	}

	if verdict.ShouldBlock {
		slog.Warn("SpamGuard blocking participant", "participantID", participantID, "consecutive", st.consecutive, "similarity", sim)
	} else if verdict.IsSpam {
		slog.Warn("SpamGuard repeat run detected", "participantID", participantID, "consecutive", st.consecutive, "similarity", sim)
	}
	return verdict
}

// IsBlocked reports whether the participant's run has reached the block
// threshold and has not been reset since.
func (g *Guard) IsBlocked(participantID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[participantID]
	return ok && st.blocked
}

// Reset clears the participant's rolling state, e.g. on manual conversation reset.
func (g *Guard) Reset(participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, participantID)
	slog.Debug("SpamGuard state reset", "participantID", participantID)
}

// SweepIdle drops per-participant state not seen within ttl and returns the
// number of entries removed. Called periodically by the maintenance scheduler.
func (g *Guard) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, st := range g.states {
		if st.lastSeen.Before(cutoff) {
			delete(g.states, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("SpamGuard swept idle state", "removed", removed)
	}
	return removed
}
