package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// HistoryRepository handles the append-only audit trail. There is no update
// or delete path on purpose.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	query := `
		INSERT INTO approval_history (id, instance_id, step_id, action, actor, occurred_at, notes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.InstanceID, entry.StepID, entry.Action, entry.Actor, entry.Timestamp, entry.Notes,
	)
	if err != nil {
		return persistence.NewInstanceError("AppendHistory", entry.InstanceID, fmt.Errorf("failed to insert history entry: %w", err))
	}

	return nil
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT
			id
		  , instance_id
		  , COALESCE(step_id::text, '')
		  , action
		  , actor
		  , occurred_at
		  , COALESCE(notes, '')
		FROM approval_history
		WHERE instance_id = $1
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, persistence.NewInstanceError("ListHistory", instanceID, fmt.Errorf("failed to query history: %w", err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var entry models.HistoryEntry

		err = rows.Scan(
			&entry.ID, &entry.InstanceID, &entry.StepID, &entry.Action,
			&entry.Actor, &entry.Timestamp, &entry.Notes,
		)
		if err != nil {
			return nil, persistence.NewInstanceError("ListHistory", instanceID, fmt.Errorf("failed to scan history entry: %w", err))
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("ListHistory", instanceID, err)
	}

	return entries, nil
}
