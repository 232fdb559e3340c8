package models

import "time"

// HistoryAction classifies one audit trail entry.
type HistoryAction string

const (
	HistoryActionApproved  HistoryAction = "approved"
	HistoryActionRejected  HistoryAction = "rejected"
	HistoryActionEscalated HistoryAction = "escalated"
	HistoryActionReverted  HistoryAction = "reverted" // A previously approved step reopened by push-back
	HistoryActionActivated HistoryAction = "activated"
	HistoryActionCompleted HistoryAction = "completed"
	HistoryActionCancelled HistoryAction = "cancelled"
)

// HistoryEntry is one immutable record in the audit trail. Entries are
// appended on every step or instance transition and never updated or deleted.
type HistoryEntry struct {
	ID         string        `json:"id"`
	InstanceID string        `json:"instance_id"`
	StepID     string        `json:"step_id,omitempty"`
	Action     HistoryAction `json:"action"`
	Actor      string        `json:"actor"` // "system" for sweeper and lifecycle entries
	Timestamp  time.Time     `json:"timestamp"`
	Notes      string        `json:"notes,omitempty"`
}

// SystemActor is recorded on transitions not attributable to a human.
const SystemActor = "system"
