package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// ExecutionRecordRepository stores one record per completed instance,
// file-named by instance ID so the idempotency key is structural.
type ExecutionRecordRepository struct {
	persistence *Persistence
}

func (r *ExecutionRecordRepository) CreateIfAbsent(ctx context.Context, record *models.ExecutionRecord) (*models.ExecutionRecord, bool, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	path := r.path(record.InstanceID)

	var existing models.ExecutionRecord

	err := r.persistence.readJSON(path, &existing)
	if err == nil {
		return &existing, false, nil
	}

	if !os.IsNotExist(err) {
		return nil, false, persistence.NewInstanceError("CreateRecord", record.InstanceID, err)
	}

	if err := r.persistence.writeJSON(path, record); err != nil {
		return nil, false, persistence.NewInstanceError("CreateRecord", record.InstanceID, err)
	}

	return record, true, nil
}

func (r *ExecutionRecordRepository) GetByInstanceID(ctx context.Context, instanceID string) (*models.ExecutionRecord, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	var record models.ExecutionRecord

	err := r.persistence.readJSON(r.path(instanceID), &record)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewInstanceError("GetRecord", instanceID, persistence.ErrRecordNotFound)
		}

		return nil, persistence.NewInstanceError("GetRecord", instanceID, err)
	}

	return &record, nil
}

func (r *ExecutionRecordRepository) path(instanceID string) string {
	return filepath.Join(r.persistence.recordsDir(), instanceID+".json")
}
