// Package models defines the core domain models for the sequential approval engine.
package models

import "time"

// InstanceStatus represents the lifecycle state of an approval instance.
type InstanceStatus string

const (
	InstanceStatusInitiated  InstanceStatus = "initiated"   // Created, first step not yet activated
	InstanceStatusInProgress InstanceStatus = "in_progress" // Chain is live, one step pending
	InstanceStatusCompleted  InstanceStatus = "completed"   // Highest step approved or escalated
	InstanceStatusCancelled  InstanceStatus = "cancelled"   // Rejection cascade exhausted the chain
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

// Instance is the header of one approval chain. It is never mutated directly
// by a decision; its status changes only as a consequence of step transitions.
type Instance struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"      validate:"required"`
	SubjectRef   string         `json:"subject_ref"    validate:"required"`
	Kind         string         `json:"kind"           validate:"required"` // e.g. maintenance, inspection, contract_renewal
	DueDate      time.Time      `json:"due_date"       validate:"required"`
	LeadTimeDays int            `json:"lead_time_days" validate:"min=0"`
	Status       InstanceStatus `json:"status"`
	Steps        []*Step        `json:"steps,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// CutoffDate is the deadline after which the sweeper may escalate the
// pending step: due date minus the configured lead time.
func (i *Instance) CutoffDate() time.Time {
	return i.DueDate.AddDate(0, 0, -i.LeadTimeDays)
}

// PendingStep returns the single step currently awaiting a decision, or nil.
func (i *Instance) PendingStep() *Step {
	for _, step := range i.Steps {
		if step.Status == StepStatusActionPending {
			return step
		}
	}

	return nil
}

// StepByID returns the step with the given ID, or nil if not present.
func (i *Instance) StepByID(id string) *Step {
	for _, step := range i.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}
