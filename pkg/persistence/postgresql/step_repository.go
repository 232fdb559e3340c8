package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// StepRepository handles step-related database operations.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// DecideStep is the engine's single contended write: a conditional update
// guarded by the expected pre-state. When a racing decision already moved
// the step, zero rows are affected and the caller gets ErrStaleStep.
func (r *StepRepository) DecideStep(ctx context.Context, stepID string, from, to models.StepStatus, decidedBy *string, notes *string, at time.Time) error {
	query := `
		UPDATE approval_steps
		SET status = $3, decided_by = $4, decided_at = $5, notes = $6, updated_at = $5
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, stepID, from, to, decidedBy, at, notes)
	if err != nil {
		return persistence.NewStepError("DecideStep", stepID, fmt.Errorf("failed to update step: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("DecideStep", stepID, err)
	}

	if affected == 0 {
		return persistence.NewStepError("DecideStep", stepID, classifyMissedUpdate(ctx, r.db, stepID))
	}

	return nil
}

// ActivateStep reopens or freshly activates a step, clearing any previous
// decision fields.
func (r *StepRepository) ActivateStep(ctx context.Context, stepID string, at time.Time) error {
	query := `
		UPDATE approval_steps
		SET status = $2, decided_by = NULL, decided_at = NULL, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, stepID, models.StepStatusActionPending, at)
	if err != nil {
		return persistence.NewStepError("ActivateStep", stepID, fmt.Errorf("failed to update step: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("ActivateStep", stepID, err)
	}

	if affected == 0 {
		return persistence.NewStepError("ActivateStep", stepID, persistence.ErrStepNotFound)
	}

	return nil
}

func (r *StepRepository) StepsByInstance(ctx context.Context, instanceID string) ([]*models.Step, error) {
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

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, persistence.NewStepError("StepsByInstance", "", fmt.Errorf("failed to query steps: %w", err))
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
			return nil, persistence.NewStepError("StepsByInstance", "", fmt.Errorf("failed to scan step: %w", err))
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewStepError("StepsByInstance", "", err)
	}

	return steps, nil
}
