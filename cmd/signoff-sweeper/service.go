// Package main provides the Signoff escalation sweeper service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/asseto/signoff/pkg/completion"
	"github.com/asseto/signoff/pkg/engine"
	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/roles"
	"github.com/asseto/signoff/pkg/sweeper"
)

// Service runs the escalation sweep on a schedule until it is signalled to
// stop.
type Service struct {
	scheduler *sweeper.Scheduler
	logger    *slog.Logger
}

func NewService(
	logger *slog.Logger,
	store persistence.Persistence,
	directory roles.Directory,
	eventBus eventbus.EventBus,
	schedule string,
) (*Service, error) {
	recorder := completion.NewRecorder(store.ExecutionRecordRepository(), logger)
	eng := engine.NewEngine(logger, store, directory, eventBus, recorder)
	swp := sweeper.NewSweeper(logger, store, eng)

	scheduler, err := sweeper.NewScheduler(logger, swp, schedule)
	if err != nil {
		return nil, err
	}

	return &Service{
		scheduler: scheduler,
		logger:    logger.With("module", "sweeper-service"),
	}, nil
}

// Start begins scheduled sweeping and blocks until shutdown.
func (s *Service) Start(ctx context.Context) {
	sCtx, cancel := context.WithCancel(ctx)

	s.logger.Info("Starting sweeper service")

	s.handleSignals(cancel)

	if err := s.scheduler.Start(sCtx); err != nil {
		s.logger.Error("Failed to start sweep scheduler", "error", err)
		cancel()

		return
	}

	<-sCtx.Done()
	s.logger.Info("Sweeper context cancelled, stopping...")
	s.scheduler.Stop()
}

func (s *Service) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		s.logger.Info("Received signal", "signal", sig)
		s.logger.Info("Shutting down gracefully...")
		cancel()
	}()
}
