package models

import "time"

// ExecutionRecord is the downstream unit of work an approval chain
// authorizes, e.g. the actual maintenance job. Exactly one record exists per
// completed instance; the instance ID is the idempotency key.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	TenantID   string    `json:"tenant_id"`
	SubjectRef string    `json:"subject_ref"`
	Kind       string    `json:"kind"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
