package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// HistoryRepository appends audit entries to a per-instance JSON document.
// Entries are never rewritten once appended.
type HistoryRepository struct {
	persistence *Persistence
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	path := r.path(entry.InstanceID)

	entries, err := r.readLocked(path)
	if err != nil {
		return persistence.NewInstanceError("AppendHistory", entry.InstanceID, err)
	}

	entries = append(entries, entry)

	if err := r.persistence.writeJSON(path, entries); err != nil {
		return persistence.NewInstanceError("AppendHistory", entry.InstanceID, err)
	}

	return nil
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.HistoryEntry, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	entries, err := r.readLocked(r.path(instanceID))
	if err != nil {
		return nil, persistence.NewInstanceError("ListHistory", instanceID, err)
	}

	// Newest first, matching the read model contract.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })

	return entries, nil
}

func (r *HistoryRepository) readLocked(path string) ([]*models.HistoryEntry, error) {
	var entries []*models.HistoryEntry

	err := r.persistence.readJSON(path, &entries)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return entries, nil
}

func (r *HistoryRepository) path(instanceID string) string {
	return filepath.Join(r.persistence.historyDir(), instanceID+".json")
}
