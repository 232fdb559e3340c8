// Package events defines event types and structures for approval lifecycle
// notifications.
package events

import "time"

type EventType string

// Topic carries every approval lifecycle event.
const Topic = "signoff.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	StepActivatedEvent     EventType = "step.activated"
	StepApprovedEvent      EventType = "step.approved"
	StepRejectedEvent      EventType = "step.rejected"
	StepEscalatedEvent     EventType = "step.escalated"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	TenantID   string         `json:"tenant_id"`
	SubjectRef string         `json:"subject_ref"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StepActivated is published when a step becomes the live pending step,
// either freshly or reopened by rejection push-back. It is the notification
// hook for the role that must now act.
type StepActivated struct {
	BaseEvent

	StepID   string `json:"step_id"`
	Sequence int    `json:"sequence"`
	Role     string `json:"role"`
	Reverted bool   `json:"reverted,omitempty"`
}

func (e StepActivated) GetType() EventType {
	return StepActivatedEvent
}

type StepApproved struct {
	BaseEvent

	StepID   string `json:"step_id"`
	Sequence int    `json:"sequence"`
	Role     string `json:"role"`
	Actor    string `json:"actor"`
}

func (e StepApproved) GetType() EventType {
	return StepApprovedEvent
}

type StepRejected struct {
	BaseEvent

	StepID   string `json:"step_id"`
	Sequence int    `json:"sequence"`
	Role     string `json:"role"`
	Actor    string `json:"actor"`
	Notes    string `json:"notes,omitempty"`
}

func (e StepRejected) GetType() EventType {
	return StepRejectedEvent
}

// StepEscalated records a forced advancement past the cutoff date. No human
// decided; the distinction from StepApproved is deliberate and preserved in
// the audit trail.
type StepEscalated struct {
	BaseEvent

	StepID   string    `json:"step_id"`
	Sequence int       `json:"sequence"`
	Role     string    `json:"role"`
	Cutoff   time.Time `json:"cutoff"`
}

func (e StepEscalated) GetType() EventType {
	return StepEscalatedEvent
}

// InstanceCompleted is published once per instance on the transition into
// the completed state, after the downstream execution record exists.
type InstanceCompleted struct {
	BaseEvent

	Kind     string `json:"kind"`
	RecordID string `json:"record_id,omitempty"`
	// NotifyRole is the role responsible for acting on the downstream record.
	NotifyRole string `json:"notify_role,omitempty"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceCancelled struct {
	BaseEvent

	Kind  string `json:"kind"`
	Notes string `json:"notes,omitempty"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}
