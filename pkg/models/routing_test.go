package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    RoutingPlan
		wantErr error
	}{
		{
			name:    "empty plan",
			plan:    RoutingPlan{},
			wantErr: ErrEmptyRoutingPlan,
		},
		{
			name: "single step",
			plan: RoutingPlan{{Sequence: 1, Role: "supervisor"}},
		},
		{
			name: "three ordered steps",
			plan: RoutingPlan{
				{Sequence: 1, Role: "supervisor"},
				{Sequence: 2, Role: "manager"},
				{Sequence: 3, Role: "director"},
			},
		},
		{
			name: "sequence does not start at 1",
			plan: RoutingPlan{
				{Sequence: 2, Role: "supervisor"},
				{Sequence: 3, Role: "manager"},
			},
			wantErr: ErrInvalidSequence,
		},
		{
			name: "gap in sequences",
			plan: RoutingPlan{
				{Sequence: 1, Role: "supervisor"},
				{Sequence: 3, Role: "manager"},
			},
			wantErr: ErrInvalidSequence,
		},
		{
			name: "duplicate sequence",
			plan: RoutingPlan{
				{Sequence: 1, Role: "supervisor"},
				{Sequence: 1, Role: "manager"},
			},
			wantErr: ErrInvalidSequence,
		},
		{
			name: "missing role",
			plan: RoutingPlan{
				{Sequence: 1, Role: "supervisor"},
				{Sequence: 2, Role: ""},
			},
			wantErr: ErrMissingRole,
		},
		{
			name: "same role on consecutive steps",
			plan: RoutingPlan{
				{Sequence: 1, Role: "manager"},
				{Sequence: 2, Role: "manager"},
			},
			wantErr: ErrDuplicateRole,
		},
		{
			name: "same role on non-consecutive steps is allowed",
			plan: RoutingPlan{
				{Sequence: 1, Role: "manager"},
				{Sequence: 2, Role: "director"},
				{Sequence: 3, Role: "manager"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoutingPlanDocument(t *testing.T) {
	tests := []struct {
		name     string
		document any
		wantErr  bool
	}{
		{
			name: "valid document",
			document: []any{
				map[string]any{"sequence": 1, "role": "supervisor"},
				map[string]any{"sequence": 2, "role": "manager"},
			},
		},
		{
			name:     "empty array",
			document: []any{},
			wantErr:  true,
		},
		{
			name: "missing role",
			document: []any{
				map[string]any{"sequence": 1},
			},
			wantErr: true,
		},
		{
			name: "sequence below 1",
			document: []any{
				map[string]any{"sequence": 0, "role": "supervisor"},
			},
			wantErr: true,
		},
		{
			name: "unknown property",
			document: []any{
				map[string]any{"sequence": 1, "role": "supervisor", "actor": "alice"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoutingPlanDocument(tt.document)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
