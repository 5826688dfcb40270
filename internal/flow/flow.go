// Package flow runs multi-step guided menus, one active instance per
// conversation. Flow definitions bind step names to handlers at definition
// time, so an unknown step is a definition error rather than a runtime lookup.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
)

// StepResult is what a step handler returns for one input.
type StepResult struct {
	// Message is the outbound text produced by the step, if any.
	Message string
	// Next names the step to move to. Empty keeps the current step (re-prompt).
	Next string
	// Completed ends the flow successfully.
	Completed bool
	// Cancelled abandons the flow.
	Cancelled bool
	// FreeFormQuestion signals the input is an out-of-band question: the flow
	// ends and the pipeline routes the original text to the answer engine.
	FreeFormQuestion bool
	// Escalate hands the conversation to a human with the given reason.
	Escalate       bool
	EscalateReason string
	// Data is merged into the flow's collected-data map.
	Data map[string]string
}

// StepHandler processes the participant's input while the flow sits on a step.
type StepHandler func(ctx context.Context, conv *models.Conversation, input string) (StepResult, error)

// Step binds a name, an entry prompt, and a handler.
type Step struct {
	Name    string
	Prompt  string
	Handler StepHandler
}

// Definition is an ordered, validated list of steps for one flow type.
type Definition struct {
	flowType string
	steps    []Step
	index    map[string]int
}

// NewDefinition validates the steps and resolves the name-to-handler table.
func NewDefinition(flowType string, steps ...Step) (*Definition, error) {
	if flowType == "" {
		return nil, fmt.Errorf("flow type cannot be empty")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("flow %s has no steps", flowType)
	}
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("flow %s: step %d has no name", flowType, i)
		}
		if s.Handler == nil {
			return nil, fmt.Errorf("flow %s: step %s has no handler", flowType, s.Name)
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("flow %s: duplicate step %s", flowType, s.Name)
		}
		index[s.Name] = i
	}
	return &Definition{flowType: flowType, steps: steps, index: index}, nil
}

// Type returns the flow type name.
func (d *Definition) Type() string { return d.flowType }

// FirstStep returns the entry step.
func (d *Definition) FirstStep() Step { return d.steps[0] }

// step resolves a step by name.
func (d *Definition) step(name string) (Step, int, bool) {
	i, ok := d.index[name]
	if !ok {
		return Step{}, 0, false
	}
	return d.steps[i], i, true
}

var registry = make(map[string]*Definition)

// Register associates a flow type with its definition. It panics on a nil or
// duplicate definition; registration happens once at startup.
func Register(d *Definition) {
	if d == nil {
		panic("flow: Register called with nil definition")
	}
	if _, dup := registry[d.flowType]; dup {
		panic(fmt.Sprintf("flow: duplicate registration for %s", d.flowType))
	}
	registry[d.flowType] = d
}

// Get retrieves the definition for a flow type.
func Get(flowType string) (*Definition, bool) {
	d, ok := registry[flowType]
	return d, ok
}

// Result is the engine's outcome for one dispatched input.
type Result struct {
	// Message is the outbound text for this turn, if any.
	Message string
	// Done reports the flow is no longer active after this input.
	Done bool
	// FreeFormQuestion instructs the pipeline to answer the original input.
	FreeFormQuestion bool
	// Escalate instructs the pipeline to hand the conversation to a human.
	Escalate       bool
	EscalateReason string
}

// Engine dispatches participant input to the conversation's active flow.
type Engine struct{}

// NewEngine creates a flow engine.
func NewEngine() *Engine { return &Engine{} }

// StartFlow attaches a new flow instance to the conversation and returns the
// entry prompt. Any previously active flow is replaced.
func (e *Engine) StartFlow(conv *models.Conversation, flowType string, now time.Time) (string, error) {
	def, ok := Get(flowType)
	if !ok {
		return "", fmt.Errorf("no flow registered for type %s", flowType)
	}
	first := def.FirstStep()
	conv.ActiveFlow = models.NewGuidedFlow(flowType, first.Name, now)
	slog.Info("Flow started", "participantID", conv.ParticipantID, "flowType", flowType, "step", first.Name)
	return first.Prompt, nil
}

// HandleInput dispatches the input to the active flow's current step and
// applies the step's transition to the conversation.
func (e *Engine) HandleInput(ctx context.Context, conv *models.Conversation, input string, now time.Time) (Result, error) {
	active := conv.ActiveFlow
	if active == nil {
		return Result{}, models.ErrNoActiveFlow
	}

	def, ok := Get(active.Type)
	if !ok {
		// The definition disappeared (e.g. restart with changed config):
		// abandon the flow and let normal processing continue.
		slog.Error("Flow definition missing for active flow, cancelling", "participantID", conv.ParticipantID, "flowType", active.Type)
		conv.ActiveFlow = nil
		return Result{Done: true}, nil
	}

	step, _, ok := def.step(active.Step)
	if !ok {
		slog.Error("Flow positioned on unknown step, cancelling", "participantID", conv.ParticipantID, "flowType", active.Type, "step", active.Step)
		conv.ActiveFlow = nil
		return Result{Done: true}, nil
	}

	res, err := step.Handler(ctx, conv, input)
	if err != nil {
		// A failing step abandons the flow; the pipeline treats the turn as
		// unanswered and falls back to escalation.
		slog.Error("Flow step handler failed", "error", err, "participantID", conv.ParticipantID, "flowType", active.Type, "step", active.Step)
		conv.ActiveFlow = nil
		return Result{Done: true}, fmt.Errorf("flow %s step %s: %w", active.Type, active.Step, err)
	}

	for k, v := range res.Data {
		active.SetData(k, v)
	}
	active.UpdatedAt = now

	switch {
	case res.FreeFormQuestion:
		// Hand off to free-form answering; collected data (consent included)
		// stays on the conversation, the menu is abandoned.
		active.Status = models.FlowStatusCompleted
		conv.ActiveFlow = nil
		slog.Info("Flow free-form breakout", "participantID", conv.ParticipantID, "flowType", active.Type, "step", active.Step)
		return Result{Done: true, FreeFormQuestion: true}, nil
	case res.Escalate:
		active.Status = models.FlowStatusCancelled
		conv.ActiveFlow = nil
		slog.Info("Flow requested escalation", "participantID", conv.ParticipantID, "flowType", active.Type, "reason", res.EscalateReason)
		return Result{Message: res.Message, Done: true, Escalate: true, EscalateReason: res.EscalateReason}, nil
	case res.Completed:
		active.Status = models.FlowStatusCompleted
		conv.ActiveFlow = nil
		slog.Info("Flow completed", "participantID", conv.ParticipantID, "flowType", active.Type)
		return Result{Message: res.Message, Done: true}, nil
	case res.Cancelled:
		active.Status = models.FlowStatusCancelled
		conv.ActiveFlow = nil
		slog.Info("Flow cancelled", "participantID", conv.ParticipantID, "flowType", active.Type)
		return Result{Message: res.Message, Done: true}, nil
	case res.Next != "":
		next, i, ok := def.step(res.Next)
		if !ok {
			slog.Error("Flow step returned unknown next step, cancelling", "participantID", conv.ParticipantID, "flowType", active.Type, "next", res.Next)
			conv.ActiveFlow = nil
			return Result{Message: res.Message, Done: true}, nil
		}
		active.Step = next.Name
		active.StepIndex = i
		msg := res.Message
		if msg == "" {
			msg = next.Prompt
		}
		return Result{Message: msg}, nil
	default:
		// Stay on the current step: invalid input recovers in place with a
		// re-prompt, never an escalation.
		msg := res.Message
		if msg == "" {
			msg = step.Prompt
		}
		return Result{Message: msg}, nil
	}
}
