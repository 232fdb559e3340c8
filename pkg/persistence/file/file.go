// Package file provides file-based persistence for approval instances. It is
// intended for development and tests; all operations serialize through one
// process-wide mutex so the conditional step update keeps its exactly-once
// semantics.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of JSON files.
type Persistence struct {
	root         string
	mu           sync.Mutex
	instanceRepo *InstanceRepository
	stepRepo     *StepRepository
	historyRepo  *HistoryRepository
	recordRepo   *ExecutionRecordRepository
}

// NewPersistence creates a new file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.instanceRepo = &InstanceRepository{persistence: p}
	p.stepRepo = &StepRepository{persistence: p}
	p.historyRepo = &HistoryRepository{persistence: p}
	p.recordRepo = &ExecutionRecordRepository{persistence: p}

	return p
}

// Close performs any necessary cleanup. For file persistence there is none.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) StepRepository() persistence.StepRepository {
	return p.stepRepo
}

func (p *Persistence) HistoryRepository() persistence.HistoryRepository {
	return p.historyRepo
}

func (p *Persistence) ExecutionRecordRepository() persistence.ExecutionRecordRepository {
	return p.recordRepo
}

func (p *Persistence) instancesDir() string {
	return filepath.Join(p.root, "instances")
}

func (p *Persistence) historyDir() string {
	return filepath.Join(p.root, "history")
}

func (p *Persistence) recordsDir() string {
	return filepath.Join(p.root, "records")
}

func (p *Persistence) writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (p *Persistence) readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

// readAllInstances loads every instance document under the root. Callers
// must hold the mutex.
func (p *Persistence) readAllInstances() ([]*models.Instance, error) {
	entries, err := os.ReadDir(p.instancesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read instances directory: %w", err)
	}

	instances := make([]*models.Instance, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var instance models.Instance
		if err := p.readJSON(filepath.Join(p.instancesDir(), entry.Name()), &instance); err != nil {
			return nil, err
		}

		instances = append(instances, &instance)
	}

	return instances, nil
}

func (p *Persistence) instancePath(id string) string {
	return filepath.Join(p.instancesDir(), id+".json")
}
