// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates an instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrStepNotFound indicates a step was not found by the given identifier.
	ErrStepNotFound = errors.New("step not found")

	// ErrStaleStep indicates a conditional step update lost a race: the step
	// was no longer in the expected status when the update ran.
	ErrStaleStep = errors.New("step already decided")

	// ErrStepNotActive indicates a decision was submitted against a step
	// that has not been activated yet.
	ErrStepNotActive = errors.New("step not yet activated")

	// ErrDuplicateInstance indicates a non-terminal instance already exists
	// for the same tenant and subject.
	ErrDuplicateInstance = errors.New("instance already in flight for subject")

	// ErrRecordNotFound indicates no execution record exists for the instance.
	ErrRecordNotFound = errors.New("execution record not found")

	// ErrInvalidSortField indicates an unsupported sort field was requested.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g. "GetByID", "Create")
	InstanceID string
	SubjectRef string
	Err        error
}

func (e *InstanceError) Error() string {
	target := e.InstanceID
	if target == "" && e.SubjectRef != "" {
		target = fmt.Sprintf("subject %s", e.SubjectRef)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, target, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// StepError wraps step-related errors with additional context.
type StepError struct {
	Op         string
	InstanceID string
	StepID     string
	Err        error
}

func (e *StepError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("%s operation failed for step %s in instance %s: %v", e.Op, e.StepID, e.InstanceID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for step %s: %v", e.Op, e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStepError creates a new step error with context.
func NewStepError(op, stepID string, err error) *StepError {
	return &StepError{Op: op, StepID: stepID, Err: err}
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsStaleStep checks if an error indicates a lost conditional update race.
func IsStaleStep(err error) bool {
	return errors.Is(err, ErrStaleStep)
}

// IsStepNotActive checks if an error indicates a decision against a step
// that was never activated.
func IsStepNotActive(err error) bool {
	return errors.Is(err, ErrStepNotActive)
}

// IsDuplicateInstance checks if an error indicates an in-flight duplicate.
func IsDuplicateInstance(err error) bool {
	return errors.Is(err, ErrDuplicateInstance)
}
