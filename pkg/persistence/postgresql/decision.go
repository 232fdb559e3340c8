package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// ApplyDecision persists a settled decision in one transaction: the
// conditional step update, the follow-up activation or terminal instance
// status, and the audit entries. A zero-row conditional update rolls the
// whole write back, so a lost race leaves no trace.
func (p *Persistence) ApplyDecision(ctx context.Context, write persistence.DecisionWrite) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	decideQuery := `
		UPDATE approval_steps
		SET status = $3, decided_by = $4, decided_at = $5, notes = $6, updated_at = $5
		WHERE id = $1 AND status = $2
	`

	result, err := tx.ExecContext(ctx, decideQuery,
		write.StepID, write.FromStatus, write.ToStatus, write.DecidedBy, write.DecidedAt, write.Notes,
	)
	if err != nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, fmt.Errorf("failed to update step: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, err)
	}

	if affected == 0 {
		err = classifyMissedUpdate(ctx, tx, write.StepID)

		return persistence.NewStepError("ApplyDecision", write.StepID, err)
	}

	if write.ActivateStepID != "" {
		activateQuery := `
			UPDATE approval_steps
			SET status = $2, decided_by = NULL, decided_at = NULL, updated_at = $3
			WHERE id = $1
		`

		_, err = tx.ExecContext(ctx, activateQuery, write.ActivateStepID, models.StepStatusActionPending, write.DecidedAt)
		if err != nil {
			return persistence.NewStepError("ApplyDecision", write.ActivateStepID, fmt.Errorf("failed to activate step: %w", err))
		}
	}

	instanceQuery := `UPDATE approval_instances SET updated_at = $2 WHERE id = $1`
	instanceArgs := []any{write.InstanceID, write.DecidedAt}

	if write.InstanceStatus != nil {
		instanceQuery = `UPDATE approval_instances SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1`
		instanceArgs = []any{write.InstanceID, *write.InstanceStatus, write.CompletedAt, write.DecidedAt}
	}

	_, err = tx.ExecContext(ctx, instanceQuery, instanceArgs...)
	if err != nil {
		return persistence.NewInstanceError("ApplyDecision", write.InstanceID, fmt.Errorf("failed to update instance: %w", err))
	}

	historyQuery := `
		INSERT INTO approval_history (id, instance_id, step_id, action, actor, occurred_at, notes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`

	for _, entry := range write.History {
		_, err = tx.ExecContext(ctx, historyQuery,
			entry.ID, entry.InstanceID, entry.StepID, entry.Action, entry.Actor, entry.Timestamp, entry.Notes,
		)
		if err != nil {
			return persistence.NewInstanceError("ApplyDecision", write.InstanceID, fmt.Errorf("failed to insert history entry: %w", err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// classifyMissedUpdate explains a zero-row conditional update: the step is
// gone, never activated, or already decided by a racing writer.
func classifyMissedUpdate(ctx context.Context, q queryRower, stepID string) error {
	var status models.StepStatus

	err := q.QueryRowContext(ctx, "SELECT status FROM approval_steps WHERE id = $1", stepID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrStepNotFound
		}

		return persistence.ErrStaleStep
	}

	if status == models.StepStatusInactive {
		return persistence.ErrStepNotActive
	}

	return persistence.ErrStaleStep
}
