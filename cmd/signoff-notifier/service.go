// Package main provides the Signoff notification service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/notification"
	"github.com/asseto/signoff/pkg/roles"
)

// Service consumes approval lifecycle events and dispatches role-addressed
// notifications.
type Service struct {
	eventBus eventbus.EventBus
	notifier *notification.Notifier
	logger   *slog.Logger
}

func NewService(logger *slog.Logger, directory roles.Directory, eventBus eventbus.EventBus) *Service {
	dispatcher := &notification.SlogDispatcher{Logger: logger}
	notifier := notification.NewNotifier(logger, directory, dispatcher)

	return &Service{
		eventBus: eventBus,
		notifier: notifier,
		logger:   logger.With("module", "notifier-service"),
	}
}

// Start subscribes to the event bus and blocks until shutdown.
func (s *Service) Start(ctx context.Context) {
	sCtx, cancel := context.WithCancel(ctx)

	s.logger.Info("Starting notifier service")

	s.handleSignals(cancel)

	if err := s.notifier.Register(s.eventBus); err != nil {
		s.logger.Error("Failed to register notification handlers", "error", err)
		cancel()

		return
	}

	if err := s.eventBus.Subscribe(sCtx); err != nil {
		s.logger.Error("Failed to subscribe to events", "error", err)
		cancel()

		return
	}

	s.logger.Info("Successfully subscribed to approval events - waiting for events...")

	<-sCtx.Done()
	s.logger.Info("Notifier context cancelled, stopping...")
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
