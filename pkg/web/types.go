package web

import (
	"time"

	"github.com/asseto/signoff/pkg/models"
)

// CreateInstanceRequest is the API payload for opening an approval chain.
type CreateInstanceRequest struct {
	TenantID     string               `json:"tenant_id"      validate:"required"`
	SubjectRef   string               `json:"subject_ref"    validate:"required"`
	Kind         string               `json:"kind"           validate:"required"`
	DueDate      time.Time            `json:"due_date"       validate:"required"`
	LeadTimeDays int                  `json:"lead_time_days" validate:"min=0"`
	Routing      []models.RoutingStep `json:"routing"        validate:"required,min=1,dive"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
}

// SubmitDecisionRequest is the API payload for deciding a pending step.
type SubmitDecisionRequest struct {
	Action models.DecisionAction `json:"action" validate:"required,oneof=approve reject"`
	Actor  string                `json:"actor"  validate:"required"`
	Notes  string                `json:"notes,omitempty"`
}
