package models

import (
	"errors"
	"fmt"
)

// Routing validation errors. A malformed routing plan must prevent the
// instance from being created at all.
var (
	ErrEmptyRoutingPlan = errors.New("routing plan must contain at least one step")
	ErrInvalidSequence  = errors.New("routing plan sequences must start at 1 and increase without gaps")
	ErrMissingRole      = errors.New("routing step role is required")
	ErrDuplicateRole    = errors.New("routing plan assigns the same role to consecutive steps")
)

// RoutingStep is one configured sign-off level in a routing plan.
type RoutingStep struct {
	Sequence int    `json:"sequence" validate:"min=1"`
	Role     string `json:"role"     validate:"required"`
}

// RoutingPlan is the ordered chain of sign-off levels an instance is created
// with. Each domain (maintenance, inspection, contract renewal) supplies its
// own plan; the engine itself is routing-agnostic.
type RoutingPlan []RoutingStep

// Validate enforces the sequencing contract: 1-based, strictly increasing,
// no gaps, every step addressed to a role.
func (p RoutingPlan) Validate() error {
	if len(p) == 0 {
		return ErrEmptyRoutingPlan
	}

	for i, step := range p {
		if step.Sequence != i+1 {
			return fmt.Errorf("%w: step at position %d has sequence %d", ErrInvalidSequence, i, step.Sequence)
		}

		if step.Role == "" {
			return fmt.Errorf("%w: sequence %d", ErrMissingRole, step.Sequence)
		}

		if i > 0 && p[i-1].Role == step.Role {
			return fmt.Errorf("%w: %q at sequences %d and %d", ErrDuplicateRole, step.Role, i, i+1)
		}
	}

	return nil
}
