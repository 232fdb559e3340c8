package models

import "time"

// StepStatus represents the routing state of one step in the chain.
type StepStatus string

const (
	StepStatusInactive      StepStatus = "inactive"       // Not yet reached
	StepStatusActionPending StepStatus = "action_pending" // The single live step awaiting a decision
	StepStatusApproved      StepStatus = "approved"
	StepStatusRejected      StepStatus = "rejected"
	StepStatusEscalated     StepStatus = "escalated" // Force-advanced past the cutoff without a human decision
)

// Decided reports whether the status is a decided end state for the step.
func (s StepStatus) Decided() bool {
	return s == StepStatusApproved || s == StepStatusRejected || s == StepStatusEscalated
}

// Step is the unit of routing: one sign-off level within an instance,
// addressed to a role, never to a specific actor.
type Step struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	Sequence   int        `json:"sequence" validate:"min=1"`
	Role       string     `json:"role"     validate:"required"`
	Status     StepStatus `json:"status"`
	DecidedBy  *string    `json:"decided_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DecisionAction is a human decision submitted against a pending step.
type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
)

// Valid reports whether the action is one of the supported decisions.
func (a DecisionAction) Valid() bool {
	return a == DecisionApprove || a == DecisionReject
}
