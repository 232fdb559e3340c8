// Package notification turns approval lifecycle events into role-addressed
// notification dispatches. Delivery is best effort: the engine has already
// committed by the time anything here runs.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/events"
	"github.com/asseto/signoff/pkg/roles"
)

// Notification is one message addressed to every actor holding a role.
type Notification struct {
	TenantID   string
	Role       string
	Actors     []string
	Event      events.EventType
	InstanceID string
	SubjectRef string
	Message    string
}

// Dispatcher delivers a notification. The transport behind it (mail, chat,
// mobile push) is out of scope here.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}

// SlogDispatcher logs notifications instead of delivering them. Default for
// development and tests.
type SlogDispatcher struct {
	Logger *slog.Logger
}

func (d *SlogDispatcher) Dispatch(ctx context.Context, notification Notification) error {
	d.Logger.InfoContext(ctx, "Notification dispatched",
		"tenant_id", notification.TenantID,
		"role", notification.Role,
		"actors", len(notification.Actors),
		"event", notification.Event,
		"instance_id", notification.InstanceID,
		"message", notification.Message)

	return nil
}

// Notifier subscribes to the event bus and fans events out to the actors
// holding the addressed role.
type Notifier struct {
	directory  roles.Directory
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewNotifier creates a new notifier.
func NewNotifier(logger *slog.Logger, directory roles.Directory, dispatcher Dispatcher) *Notifier {
	return &Notifier{directory: directory, dispatcher: dispatcher, logger: logger}
}

// Register wires the notifier's handlers into the event bus. Call Subscribe
// on the bus afterwards.
func (n *Notifier) Register(bus eventbus.EventSubscriber) error {
	if err := bus.Handle(events.StepActivatedEvent, n.handleStepActivated); err != nil {
		return err
	}

	if err := bus.Handle(events.StepEscalatedEvent, n.handleStepEscalated); err != nil {
		return err
	}

	return bus.Handle(events.InstanceCompletedEvent, n.handleInstanceCompleted)
}

func (n *Notifier) handleStepActivated(ctx context.Context, raw any) error {
	event, ok := raw.(*events.StepActivated)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", raw)
	}

	message := fmt.Sprintf("Approval step %d for %s awaits your decision", event.Sequence, event.SubjectRef)
	if event.Reverted {
		message = fmt.Sprintf("Approval step %d for %s was reopened after a rejection", event.Sequence, event.SubjectRef)
	}

	return n.notifyRole(ctx, event.TenantID, event.Role, event.InstanceID, event.SubjectRef, event.Type, message)
}

func (n *Notifier) handleStepEscalated(ctx context.Context, raw any) error {
	event, ok := raw.(*events.StepEscalated)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", raw)
	}

	message := fmt.Sprintf("Approval step %d for %s was escalated past its cutoff without a decision", event.Sequence, event.SubjectRef)

	return n.notifyRole(ctx, event.TenantID, event.Role, event.InstanceID, event.SubjectRef, event.Type, message)
}

func (n *Notifier) handleInstanceCompleted(ctx context.Context, raw any) error {
	event, ok := raw.(*events.InstanceCompleted)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", raw)
	}

	if event.NotifyRole == "" {
		return nil
	}

	message := fmt.Sprintf("Approval for %s completed; %s work is authorized", event.SubjectRef, event.Kind)

	return n.notifyRole(ctx, event.TenantID, event.NotifyRole, event.InstanceID, event.SubjectRef, event.Type, message)
}

func (n *Notifier) notifyRole(ctx context.Context, tenantID, role, instanceID, subjectRef string, eventType events.EventType, message string) error {
	actors, err := n.directory.ActorsForRole(ctx, tenantID, role)
	if err != nil {
		// Addressing failures are logged, not retried through the bus: the
		// directory is eventually consistent and the next event will see it.
		n.logger.ErrorContext(ctx, "Failed to resolve role members",
			"tenant_id", tenantID, "role", role, "error", err)

		return nil
	}

	return n.dispatcher.Dispatch(ctx, Notification{
		TenantID:   tenantID,
		Role:       role,
		Actors:     actors,
		Event:      eventType,
		InstanceID: instanceID,
		SubjectRef: subjectRef,
		Message:    message,
	})
}
