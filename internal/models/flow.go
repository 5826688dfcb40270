package models

import "time"

// FlowStatus describes the lifecycle of a guided flow instance.
type FlowStatus string

const (
	// FlowStatusPending means the flow is created but has not prompted yet.
	FlowStatusPending FlowStatus = "pending"
	// FlowStatusActive means the flow is waiting on participant input.
	FlowStatusActive FlowStatus = "active"
	// FlowStatusCompleted means the flow ran through all its steps.
	FlowStatusCompleted FlowStatus = "completed"
	// FlowStatusCancelled means the flow was abandoned before completion.
	FlowStatusCancelled FlowStatus = "cancelled"
)

// GuidedFlow is the per-conversation state of one multi-step guided menu.
// At most one instance exists per conversation, owned by the Conversation.
type GuidedFlow struct {
	Type      string            `json:"type"`
	Step      string            `json:"step"`
	StepIndex int               `json:"step_index"`
	Data      map[string]string `json:"data,omitempty"`
	Status    FlowStatus        `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewGuidedFlow creates a flow instance positioned at the given first step.
func NewGuidedFlow(flowType, firstStep string, now time.Time) *GuidedFlow {
	return &GuidedFlow{
		Type:      flowType,
		Step:      firstStep,
		Data:      make(map[string]string),
		Status:    FlowStatusActive,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetData stores one collected answer on the flow.
func (f *GuidedFlow) SetData(key, value string) {
	if f.Data == nil {
		f.Data = make(map[string]string)
	}
	f.Data[key] = value
}
