// Package completion turns a completed approval chain into its downstream
// side effect exactly once. Each domain (maintenance, inspection, contract
// renewal) plugs in as a Handler strategy; the default Recorder creates the
// execution record the chain authorized.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// Handler is invoked on the transition into the completed state. OnCompleted
// must be idempotent: re-invocation for the same instance, e.g. a retry
// after a crash, must not create a duplicate downstream record.
type Handler interface {
	OnCompleted(ctx context.Context, instance *models.Instance) (*models.ExecutionRecord, error)
}

// Recorder is the default Handler: it creates one execution record per
// completed instance, using the instance ID as the idempotency key.
type Recorder struct {
	records persistence.ExecutionRecordRepository
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing through the given repository.
func NewRecorder(records persistence.ExecutionRecordRepository, logger *slog.Logger) *Recorder {
	return &Recorder{records: records, logger: logger}
}

func (r *Recorder) OnCompleted(ctx context.Context, instance *models.Instance) (*models.ExecutionRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record ID: %w", err)
	}

	record := &models.ExecutionRecord{
		ID:         id.String(),
		InstanceID: instance.ID,
		TenantID:   instance.TenantID,
		SubjectRef: instance.SubjectRef,
		Kind:       instance.Kind,
		Notes:      fmt.Sprintf("authorized by approval chain %s", instance.ID),
		CreatedAt:  time.Now().UTC(),
	}

	stored, created, err := r.records.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	if !created {
		r.logger.InfoContext(ctx, "Execution record already exists, skipping",
			"instance_id", instance.ID, "record_id", stored.ID)
	}

	return stored, nil
}
