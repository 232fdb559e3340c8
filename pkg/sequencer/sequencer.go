// Package sequencer owns the ordering contract of an approval chain: given a
// step transition, it computes the consequent step and instance states. It is
// side-effect-free and operates on fully loaded instances only.
package sequencer

import (
	"errors"
	"time"

	"github.com/asseto/signoff/pkg/models"
)

var (
	// ErrStepNotInInstance indicates the step does not belong to the instance.
	ErrStepNotInInstance = errors.New("step does not belong to instance")

	// ErrStepNotPending indicates the step is not currently awaiting a decision.
	ErrStepNotPending = errors.New("step is not action pending")

	// ErrNoSteps indicates the instance has no steps to activate.
	ErrNoSteps = errors.New("instance has no steps")
)

// Transition describes the state changes computed for one decision. The
// caller persists the listed steps and the instance status together.
type Transition struct {
	// Decided is the step whose decision drove the transition.
	Decided *models.Step

	// Activated is the step newly set to action pending, nil when the
	// transition was terminal for the instance.
	Activated *models.Step

	// Reverted reports whether Activated is a previously approved step
	// reopened by rejection push-back rather than a fresh activation.
	Reverted bool

	// InstanceStatus is the instance status after the transition.
	InstanceStatus models.InstanceStatus
}

// Completed reports whether the transition completed the instance.
func (t Transition) Completed() bool {
	return t.InstanceStatus == models.InstanceStatusCompleted
}

// Cancelled reports whether the transition cancelled the instance.
func (t Transition) Cancelled() bool {
	return t.InstanceStatus == models.InstanceStatusCancelled
}

// ActivateFirst activates the sequence-1 step of a freshly created instance
// and moves the instance to in progress. All other steps stay inactive.
func ActivateFirst(instance *models.Instance, now time.Time) (*models.Step, error) {
	var first *models.Step

	for _, step := range instance.Steps {
		if first == nil || step.Sequence < first.Sequence {
			first = step
		}
	}

	if first == nil {
		return nil, ErrNoSteps
	}

	first.Status = models.StepStatusActionPending
	first.UpdatedAt = now
	instance.Status = models.InstanceStatusInProgress
	instance.UpdatedAt = now

	return first, nil
}

// Advance marks the decided step with the given status (approved or
// escalated; they are equivalent for sequencing) and activates the inactive
// step with the smallest higher sequence. Steps already rejected by an
// earlier push-back are bypassed, never re-activated. When no higher step
// remains the instance completes.
func Advance(instance *models.Instance, decided *models.Step, status models.StepStatus, now time.Time) (Transition, error) {
	if err := checkPending(instance, decided); err != nil {
		return Transition{}, err
	}

	decided.Status = status
	decided.UpdatedAt = now

	var next *models.Step

	for _, step := range instance.Steps {
		if step.Sequence <= decided.Sequence || step.Status != models.StepStatusInactive {
			continue
		}

		if next == nil || step.Sequence < next.Sequence {
			next = step
		}
	}

	transition := Transition{Decided: decided, InstanceStatus: instance.Status}

	if next == nil {
		instance.Status = models.InstanceStatusCompleted
		instance.UpdatedAt = now
		completedAt := now
		instance.CompletedAt = &completedAt
		transition.InstanceStatus = models.InstanceStatusCompleted

		return transition, nil
	}

	next.Status = models.StepStatusActionPending
	next.UpdatedAt = now
	transition.Activated = next

	return transition, nil
}

// Revert marks the rejected step and pushes the chain back to the nearest
// lower-sequence approved step, reopening it. Intermediate records are left
// untouched as history. When no prior approval exists, or every step in the
// instance ended up rejected, the instance cancels.
func Revert(instance *models.Instance, rejected *models.Step, now time.Time) (Transition, error) {
	if err := checkPending(instance, rejected); err != nil {
		return Transition{}, err
	}

	rejected.Status = models.StepStatusRejected
	rejected.UpdatedAt = now

	transition := Transition{Decided: rejected, InstanceStatus: instance.Status}

	if allRejected(instance) {
		return cancel(instance, transition, now), nil
	}

	var previous *models.Step

	for _, step := range instance.Steps {
		if step.Sequence >= rejected.Sequence || step.Status != models.StepStatusApproved {
			continue
		}

		if previous == nil || step.Sequence > previous.Sequence {
			previous = step
		}
	}

	if previous == nil {
		return cancel(instance, transition, now), nil
	}

	previous.Status = models.StepStatusActionPending
	previous.DecidedBy = nil
	previous.DecidedAt = nil
	previous.UpdatedAt = now
	transition.Activated = previous
	transition.Reverted = true

	return transition, nil
}

func cancel(instance *models.Instance, transition Transition, now time.Time) Transition {
	instance.Status = models.InstanceStatusCancelled
	instance.UpdatedAt = now
	completedAt := now
	instance.CompletedAt = &completedAt
	transition.InstanceStatus = models.InstanceStatusCancelled

	return transition
}

func checkPending(instance *models.Instance, step *models.Step) error {
	if instance.StepByID(step.ID) == nil {
		return ErrStepNotInInstance
	}

	if step.Status != models.StepStatusActionPending {
		return ErrStepNotPending
	}

	return nil
}

func allRejected(instance *models.Instance) bool {
	for _, step := range instance.Steps {
		if step.Status != models.StepStatusRejected {
			return false
		}
	}

	return true
}
