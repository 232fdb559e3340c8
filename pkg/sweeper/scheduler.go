package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the sweeper on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	sweeper *Sweeper
	logger  *slog.Logger
	spec    string
	cron    *cron.Cron
}

// NewScheduler validates the cron expression and creates a scheduler.
func NewScheduler(logger *slog.Logger, sweeper *Sweeper, spec string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", spec, err)
	}

	return &Scheduler{
		sweeper: sweeper,
		logger:  logger,
		spec:    spec,
	}, nil
}

// Start begins scheduled sweeping. It returns immediately; sweeps run on the
// cron's goroutine until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.sweeper.RunSweep(ctx, time.Now().UTC()); err != nil {
			s.logger.ErrorContext(ctx, "Sweep run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweep scheduler started", "schedule", s.spec)

	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("Sweep scheduler stopped")
	}
}
