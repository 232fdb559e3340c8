package file

import (
	"context"
	"sort"
	"time"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// StepRepository mutates steps inside their instance documents. The
// process-wide mutex makes the read-modify-write conditional update atomic.
type StepRepository struct {
	persistence *Persistence
}

func (r *StepRepository) DecideStep(ctx context.Context, stepID string, from, to models.StepStatus, decidedBy *string, notes *string, at time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instance, step, err := r.findStepLocked(stepID)
	if err != nil {
		return persistence.NewStepError("DecideStep", stepID, err)
	}

	if step.Status != from {
		if step.Status == models.StepStatusInactive {
			return persistence.NewStepError("DecideStep", stepID, persistence.ErrStepNotActive)
		}

		return persistence.NewStepError("DecideStep", stepID, persistence.ErrStaleStep)
	}

	step.Status = to
	step.DecidedBy = decidedBy
	step.DecidedAt = &at
	step.Notes = notes
	step.UpdatedAt = at

	if err := r.persistence.writeJSON(r.persistence.instancePath(instance.ID), instance); err != nil {
		return persistence.NewStepError("DecideStep", stepID, err)
	}

	return nil
}

func (r *StepRepository) ActivateStep(ctx context.Context, stepID string, at time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instance, step, err := r.findStepLocked(stepID)
	if err != nil {
		return persistence.NewStepError("ActivateStep", stepID, err)
	}

	step.Status = models.StepStatusActionPending
	step.DecidedBy = nil
	step.DecidedAt = nil
	step.UpdatedAt = at

	if err := r.persistence.writeJSON(r.persistence.instancePath(instance.ID), instance); err != nil {
		return persistence.NewStepError("ActivateStep", stepID, err)
	}

	return nil
}

func (r *StepRepository) StepsByInstance(ctx context.Context, instanceID string) ([]*models.Step, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instance, err := r.persistence.instanceRepo.getByIDLocked(instanceID)
	if err != nil {
		return nil, err
	}

	steps := make([]*models.Step, len(instance.Steps))
	copy(steps, instance.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })

	return steps, nil
}

func (r *StepRepository) findStepLocked(stepID string) (*models.Instance, *models.Step, error) {
	instances, err := r.persistence.readAllInstances()
	if err != nil {
		return nil, nil, err
	}

	for _, instance := range instances {
		if step := instance.StepByID(stepID); step != nil {
			return instance, step, nil
		}
	}

	return nil, nil, persistence.ErrStepNotFound
}
