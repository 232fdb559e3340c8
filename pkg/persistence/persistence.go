// Package persistence provides the data storage abstraction layer for
// approval instances, steps, audit history and downstream execution records.
package persistence

import (
	"context"
	"time"

	"github.com/asseto/signoff/pkg/models"
)

// Persistence exposes the repositories the engine operates on.
type Persistence interface {
	InstanceRepository() InstanceRepository
	StepRepository() StepRepository
	HistoryRepository() HistoryRepository
	ExecutionRecordRepository() ExecutionRecordRepository

	// ApplyDecision persists one settled decision atomically: the
	// conditional step update together with its consequent activation or
	// terminal instance status and the audit entries. It fails with
	// ErrStaleStep when the step left the expected status, ErrStepNotActive
	// when it was never activated; no partial state survives a failure.
	ApplyDecision(ctx context.Context, write DecisionWrite) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DecisionWrite is the full consequence of one settled decision. The
// conditional update on (StepID, FromStatus) guards the whole write; the
// activation, instance status and history entries commit with it or not
// at all.
type DecisionWrite struct {
	InstanceID string

	StepID     string
	FromStatus models.StepStatus
	ToStatus   models.StepStatus
	DecidedBy  *string
	Notes      *string
	DecidedAt  time.Time

	// ActivateStepID names the next or reopened step, empty when the
	// transition was terminal for the instance.
	ActivateStepID string

	// InstanceStatus is set when the transition moved the instance to a
	// terminal status.
	InstanceStatus *models.InstanceStatus
	CompletedAt    *time.Time

	History []*models.HistoryEntry
}

// ListInstancesOptions narrows and pages an instance listing.
type ListInstancesOptions struct {
	Limit      int
	Offset     int
	TenantID   string
	SubjectRef string
	Status     *models.InstanceStatus
	SortBy     string // created_at | due_date | updated_at
	SortOrder  string // asc | desc
}

// ListInstancesResult carries one page of instances plus paging metadata.
type ListInstancesResult struct {
	Instances   []*models.Instance
	TotalCount  int64
	HasNextPage bool
}

// InstanceRepository persists approval instance headers and their steps.
type InstanceRepository interface {
	// Create persists the instance together with all of its steps
	// atomically. It fails with ErrDuplicateInstance when a non-terminal
	// instance already exists for the same tenant and subject.
	Create(ctx context.Context, instance *models.Instance) error

	// GetByID returns the instance with its steps loaded, or
	// ErrInstanceNotFound.
	GetByID(ctx context.Context, id string) (*models.Instance, error)

	// ActiveBySubject returns the non-terminal instance for a subject, or
	// ErrInstanceNotFound when none is in flight.
	ActiveBySubject(ctx context.Context, tenantID, subjectRef string) (*models.Instance, error)

	// List returns a page of instances without steps loaded.
	List(ctx context.Context, opts ListInstancesOptions) (*ListInstancesResult, error)

	// UpdateStatus moves the instance to the given status, stamping
	// updated_at with the caller's clock.
	UpdateStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time, at time.Time) error

	// InProgressPastCutoff returns all in-progress instances, steps loaded,
	// whose cutoff date lies at or before now. Used by the sweeper.
	InProgressPastCutoff(ctx context.Context, now time.Time) ([]*models.Instance, error)
}

// StepRepository persists step routing state. DecideStep is the single
// contended mutation of the whole engine and must be a conditional update.
type StepRepository interface {
	// DecideStep atomically moves a step from the expected status to the
	// decided status, recording who decided and when. When the step is no
	// longer in the expected status the update affects nothing and
	// ErrStaleStep is returned; racing writers get exactly one winner.
	DecideStep(ctx context.Context, stepID string, from, to models.StepStatus, decidedBy *string, notes *string, at time.Time) error

	// ActivateStep sets a step to action pending, clearing any previous
	// decision fields. Used for fresh activations and rejection push-back.
	ActivateStep(ctx context.Context, stepID string, at time.Time) error

	// StepsByInstance returns all steps of an instance ordered by sequence.
	StepsByInstance(ctx context.Context, instanceID string) ([]*models.Step, error)
}

// HistoryRepository is the append-only audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.HistoryEntry, error)
}

// ExecutionRecordRepository persists the downstream records created on
// completion, keyed uniquely by instance ID.
type ExecutionRecordRepository interface {
	// CreateIfAbsent creates the record unless one already exists for the
	// same instance, in which case the existing record is returned and
	// created is false. This is the completion idempotency guarantee.
	CreateIfAbsent(ctx context.Context, record *models.ExecutionRecord) (existing *models.ExecutionRecord, created bool, err error)

	GetByInstanceID(ctx context.Context, instanceID string) (*models.ExecutionRecord, error)
}
