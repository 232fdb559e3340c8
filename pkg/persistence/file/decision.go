package file

import (
	"context"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// ApplyDecision persists a settled decision under the process-wide mutex.
// The decided step, the consequent activation and the instance status all
// live in one instance document, so a single write commits them together;
// history is appended only after that write succeeds.
func (p *Persistence) ApplyDecision(ctx context.Context, write persistence.DecisionWrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, err := p.instanceRepo.getByIDLocked(write.InstanceID)
	if err != nil {
		return err
	}

	step := instance.StepByID(write.StepID)
	if step == nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, persistence.ErrStepNotFound)
	}

	if step.Status != write.FromStatus {
		if step.Status == models.StepStatusInactive {
			return persistence.NewStepError("ApplyDecision", write.StepID, persistence.ErrStepNotActive)
		}

		return persistence.NewStepError("ApplyDecision", write.StepID, persistence.ErrStaleStep)
	}

	step.Status = write.ToStatus
	step.DecidedBy = write.DecidedBy
	step.DecidedAt = &write.DecidedAt
	step.Notes = write.Notes
	step.UpdatedAt = write.DecidedAt

	if write.ActivateStepID != "" {
		next := instance.StepByID(write.ActivateStepID)
		if next == nil {
			return persistence.NewStepError("ApplyDecision", write.ActivateStepID, persistence.ErrStepNotFound)
		}

		next.Status = models.StepStatusActionPending
		next.DecidedBy = nil
		next.DecidedAt = nil
		next.UpdatedAt = write.DecidedAt
	}

	if write.InstanceStatus != nil {
		instance.Status = *write.InstanceStatus
		instance.CompletedAt = write.CompletedAt
	}

	instance.UpdatedAt = write.DecidedAt

	if err := p.writeJSON(p.instancePath(instance.ID), instance); err != nil {
		return persistence.NewStepError("ApplyDecision", write.StepID, err)
	}

	return p.appendHistoryLocked(write.InstanceID, write.History)
}

func (p *Persistence) appendHistoryLocked(instanceID string, entries []*models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	path := p.historyRepo.path(instanceID)

	existing, err := p.historyRepo.readLocked(path)
	if err != nil {
		return persistence.NewInstanceError("ApplyDecision", instanceID, err)
	}

	existing = append(existing, entries...)

	if err := p.writeJSON(path, existing); err != nil {
		return persistence.NewInstanceError("ApplyDecision", instanceID, err)
	}

	return nil
}
