package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , tenant_id
  , subject_ref
  , kind
  , due_date
  , lead_time_days
  , status
  , metadata
  , created_at
  , updated_at
  , completed_at
`

// Create persists the instance and all of its steps in one transaction. The
// partial unique index on (tenant_id, subject_ref) rejects a second
// in-flight instance for the same subject.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	metadataJSON, err := json.Marshal(instance.Metadata)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	instanceQuery := `
		INSERT INTO approval_instances (
			id, tenant_id, subject_ref, kind, due_date, lead_time_days,
			status, metadata, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = tx.ExecContext(ctx, instanceQuery,
		instance.ID, instance.TenantID, instance.SubjectRef, instance.Kind,
		instance.DueDate, instance.LeadTimeDays, instance.Status, metadataJSON,
		instance.CreatedAt, instance.UpdatedAt, instance.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewInstanceError("Create", instance.ID, persistence.ErrDuplicateInstance)
		}

		return persistence.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to insert instance: %w", err))
	}

	stepQuery := `
		INSERT INTO approval_steps (
			id, instance_id, sequence, role, status, decided_by, decided_at,
			notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, step := range instance.Steps {
		_, err = tx.ExecContext(ctx, stepQuery,
			step.ID, step.InstanceID, step.Sequence, step.Role, step.Status,
			step.DecidedBy, step.DecidedAt, step.Notes, step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			return persistence.NewStepError("Create", step.ID, fmt.Errorf("failed to insert step: %w", err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances WHERE id = $1`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	err = r.loadSteps(ctx, instance)
	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) ActiveBySubject(ctx context.Context, tenantID, subjectRef string) (*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE tenant_id = $1 AND subject_ref = $2 AND status IN ('initiated', 'in_progress')
	`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, tenantID, subjectRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.InstanceError{
				Op: "ActiveBySubject", SubjectRef: subjectRef, Err: persistence.ErrInstanceNotFound,
			}
		}

		return nil, &persistence.InstanceError{Op: "ActiveBySubject", SubjectRef: subjectRef, Err: err}
	}

	err = r.loadSteps(ctx, instance)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "ActiveBySubject", SubjectRef: subjectRef, Err: err}
	}

	return instance, nil
}

var allowedSortFields = []string{"created_at", "due_date", "updated_at"}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.ListInstancesResult, error) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}

	if !slices.Contains(allowedSortFields, sortBy) {
		return nil, persistence.NewInstanceError("List", "", persistence.ErrInvalidSortField)
	}

	sortOrder := "DESC"
	if opts.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	where := " WHERE 1=1"
	args := make([]any, 0, 5)

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}

	if opts.SubjectRef != "" {
		args = append(args, opts.SubjectRef)
		where += fmt.Sprintf(" AND subject_ref = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM approval_instances"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, persistence.NewInstanceError("List", "", fmt.Errorf("failed to count instances: %w", err))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM approval_instances%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		instanceColumns, where, sortBy, sortOrder, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewInstanceError("List", "", fmt.Errorf("failed to query instances: %w", err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, persistence.NewInstanceError("List", "", fmt.Errorf("failed to scan instance: %w", err))
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("List", "", fmt.Errorf("error iterating instances: %w", err))
	}

	return &persistence.ListInstancesResult{
		Instances:   instances,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(instances)) < totalCount,
	}, nil
}

func (r *InstanceRepository) UpdateStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time, at time.Time) error {
	query := `
		UPDATE approval_instances
		SET status = $2, completed_at = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, completedAt, at)
	if err != nil {
		return persistence.NewInstanceError("UpdateStatus", id, fmt.Errorf("failed to update instance: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("UpdateStatus", id, err)
	}

	if affected == 0 {
		return persistence.NewInstanceError("UpdateStatus", id, persistence.ErrInstanceNotFound)
	}

	return nil
}

func (r *InstanceRepository) InProgressPastCutoff(ctx context.Context, now time.Time) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE status = 'in_progress'
		  AND due_date - make_interval(days => lead_time_days) <= $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, persistence.NewInstanceError("InProgressPastCutoff", "", fmt.Errorf("failed to query instances: %w", err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, persistence.NewInstanceError("InProgressPastCutoff", "", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("InProgressPastCutoff", "", err)
	}

	for _, instance := range instances {
		err = r.loadSteps(ctx, instance)
		if err != nil {
			return nil, persistence.NewInstanceError("InProgressPastCutoff", instance.ID, err)
		}
	}

	return instances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *InstanceRepository) scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance     models.Instance
		metadataJSON []byte
	)

	err := row.Scan(
		&instance.ID, &instance.TenantID, &instance.SubjectRef, &instance.Kind,
		&instance.DueDate, &instance.LeadTimeDays, &instance.Status, &metadataJSON,
		&instance.CreatedAt, &instance.UpdatedAt, &instance.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &instance.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &instance, nil
}

func (r *InstanceRepository) loadSteps(ctx context.Context, instance *models.Instance) error {
	query := `
		SELECT
			id
		  , instance_id
		  , sequence
		  , role
		  , status
		  , decided_by
		  , decided_at
		  , notes
		  , created_at
		  , updated_at
		FROM approval_steps
		WHERE instance_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var step models.Step

		err = rows.Scan(
			&step.ID, &step.InstanceID, &step.Sequence, &step.Role, &step.Status,
			&step.DecidedBy, &step.DecidedAt, &step.Notes, &step.CreatedAt, &step.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	instance.Steps = steps

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
