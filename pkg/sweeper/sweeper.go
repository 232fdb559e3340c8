// Package sweeper implements the scheduled escalation batch: it scans every
// in-progress instance past its cutoff date and force-advances the stalled
// pending step.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asseto/signoff/pkg/engine"
	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/otelhelper"
	"github.com/asseto/signoff/pkg/persistence"
)

// Summary aggregates one sweep run. Per-instance failures are isolated and
// counted; they never abort the scan.
type Summary struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Sweeper escalates stalled steps through the engine's conditional update,
// so it can never race a human decision into a corrupt state: whichever
// lands first wins and the other is a no-op.
type Sweeper struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewSweeper creates a new escalation sweeper.
func NewSweeper(logger *slog.Logger, store persistence.Persistence, eng *engine.Engine) *Sweeper {
	return &Sweeper{
		persistence: store,
		engine:      eng,
		logger:      logger,
		tracer:      otel.Tracer("signoff.sweeper"),
	}
}

// RunSweep scans all in-progress instances whose cutoff date lies at or
// before now and escalates their pending step. Safe to run concurrently
// with itself and at arbitrary intervals: the conditional status guard makes
// overlapping runs no-ops.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) (Summary, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "sweeper.run_sweep")
	defer span.End()

	var summary Summary

	instances, err := s.persistence.InstanceRepository().InProgressPastCutoff(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return summary, err
	}

	for _, instance := range instances {
		summary.Scanned++

		outcome := s.sweepInstance(ctx, instance, now)

		switch outcome {
		case sweepEscalated:
			summary.Escalated++
		case sweepCompleted:
			summary.Escalated++
			summary.Completed++
		case sweepSkipped:
			summary.Skipped++
		case sweepFailed:
			summary.Errors++
		}
	}

	span.SetAttributes(
		attribute.Int("signoff.sweep.scanned", summary.Scanned),
		attribute.Int("signoff.sweep.escalated", summary.Escalated),
		attribute.Int("signoff.sweep.completed", summary.Completed),
	)

	s.logger.InfoContext(ctx, "Escalation sweep finished",
		"scanned", summary.Scanned, "escalated", summary.Escalated,
		"completed", summary.Completed, "skipped", summary.Skipped, "errors", summary.Errors)

	return summary, nil
}

type sweepOutcome int

const (
	sweepEscalated sweepOutcome = iota
	sweepCompleted
	sweepSkipped
	sweepFailed
)

func (s *Sweeper) sweepInstance(ctx context.Context, instance *models.Instance, now time.Time) sweepOutcome {
	pending := instance.PendingStep()
	if pending == nil {
		// No live step to escalate; another writer settled the instance
		// between the scan and now.
		return sweepSkipped
	}

	result, err := s.engine.EscalateStep(ctx, instance, pending, now)
	if err != nil {
		if persistence.IsStaleStep(err) {
			// A human decision won the race; nothing to do.
			s.logger.InfoContext(ctx, "Step decided before escalation, skipping",
				"instance_id", instance.ID, "step_id", pending.ID)

			return sweepSkipped
		}

		s.logger.ErrorContext(ctx, "Failed to escalate instance, continuing sweep",
			"instance_id", instance.ID, "step_id", pending.ID, "error", err)

		return sweepFailed
	}

	s.logger.InfoContext(ctx, "Escalated stalled step",
		"instance_id", instance.ID, "step_id", pending.ID,
		"sequence", pending.Sequence, "instance_status", result.InstanceStatus)

	if result.InstanceStatus == models.InstanceStatusCompleted {
		return sweepCompleted
	}

	return sweepEscalated
}
