package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// ExecutionRecordRepository handles downstream execution records. The unique
// constraint on instance_id carries the completion idempotency guarantee.
type ExecutionRecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRecordRepository creates a new execution record repository.
func NewExecutionRecordRepository(db *sql.DB, logger *slog.Logger) *ExecutionRecordRepository {
	return &ExecutionRecordRepository{db: db, logger: logger}
}

func (r *ExecutionRecordRepository) CreateIfAbsent(ctx context.Context, record *models.ExecutionRecord) (*models.ExecutionRecord, bool, error) {
	query := `
		INSERT INTO execution_records (id, instance_id, tenant_id, subject_ref, kind, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instance_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, record.InstanceID, record.TenantID, record.SubjectRef,
		record.Kind, record.Notes, record.CreatedAt,
	)
	if err != nil {
		return nil, false, persistence.NewInstanceError("CreateRecord", record.InstanceID, fmt.Errorf("failed to insert record: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewInstanceError("CreateRecord", record.InstanceID, err)
	}

	if affected == 0 {
		existing, err := r.GetByInstanceID(ctx, record.InstanceID)
		if err != nil {
			return nil, false, err
		}

		return existing, false, nil
	}

	return record, true, nil
}

func (r *ExecutionRecordRepository) GetByInstanceID(ctx context.Context, instanceID string) (*models.ExecutionRecord, error) {
	query := `
		SELECT id, instance_id, tenant_id, subject_ref, kind, COALESCE(notes, ''), created_at
		FROM execution_records
		WHERE instance_id = $1
	`

	var record models.ExecutionRecord

	err := r.db.QueryRowContext(ctx, query, instanceID).Scan(
		&record.ID, &record.InstanceID, &record.TenantID, &record.SubjectRef,
		&record.Kind, &record.Notes, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetRecord", instanceID, persistence.ErrRecordNotFound)
		}

		return nil, persistence.NewInstanceError("GetRecord", instanceID, err)
	}

	return &record, nil
}
