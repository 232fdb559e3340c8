// Package engine provides standardized error types for decision processing.
package engine

import (
	"errors"

	"github.com/asseto/signoff/pkg/persistence"
)

var (
	// ErrUnauthorized indicates the actor does not hold the pending step's
	// role. Rejected before any mutation.
	ErrUnauthorized = errors.New("actor does not hold the step role")

	// ErrInvalidAction indicates an unsupported decision action.
	ErrInvalidAction = errors.New("invalid decision action")

	// ErrInstanceNotInProgress indicates a decision was submitted against an
	// instance that is not currently in progress.
	ErrInstanceNotInProgress = errors.New("instance is not in progress")

	// ErrStaleStep is surfaced to the loser of a decision race: the step was
	// already decided by another actor or the sweeper. Non-fatal; the caller
	// should refresh and show the actual outcome.
	ErrStaleStep = persistence.ErrStaleStep

	// ErrStepNotActive is returned for a decision against a step the chain
	// has not reached yet. Distinct from ErrStaleStep: nothing ever decided
	// this step.
	ErrStepNotActive = persistence.ErrStepNotActive

	// ErrInstanceNotFound re-exports the persistence sentinel for callers.
	ErrInstanceNotFound = persistence.ErrInstanceNotFound

	// ErrStepNotFound re-exports the persistence sentinel for callers.
	ErrStepNotFound = persistence.ErrStepNotFound
)

// IsUnauthorized checks if an error indicates a failed role check.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsStaleStep checks if an error indicates a lost decision race.
func IsStaleStep(err error) bool {
	return errors.Is(err, ErrStaleStep)
}

// IsStepNotActive checks if an error indicates a decision against a step
// that has not been activated yet.
func IsStepNotActive(err error) bool {
	return errors.Is(err, ErrStepNotActive)
}

// IsConflict checks if an error indicates a decision against a settled
// instance.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInstanceNotInProgress)
}

// IsValidation checks if an error indicates a malformed request that should
// never reach persistence.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAction)
}
