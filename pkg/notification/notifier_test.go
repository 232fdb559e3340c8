package notification

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/events"
	"github.com/asseto/signoff/pkg/roles"
)

type captureDispatcher struct {
	notifications []Notification
}

func (d *captureDispatcher) Dispatch(_ context.Context, notification Notification) error {
	d.notifications = append(d.notifications, notification)

	return nil
}

type fakeSubscriber struct {
	handlers map[events.EventType]eventbus.EventHandler
}

func (s *fakeSubscriber) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[events.EventType]eventbus.EventHandler)
	}

	s.handlers[eventType] = handler

	return nil
}

func (s *fakeSubscriber) Subscribe(_ context.Context) error {
	return nil
}

func setupNotifier(t *testing.T) (*fakeSubscriber, *captureDispatcher) {
	t.Helper()

	directory := roles.NewStaticDirectory()
	directory.Grant("tenant-1", "manager", "bob")
	directory.Grant("tenant-1", "manager", "carol")

	dispatcher := &captureDispatcher{}
	notifier := NewNotifier(slog.Default(), directory, dispatcher)

	bus := &fakeSubscriber{}
	require.NoError(t, notifier.Register(bus))

	return bus, dispatcher
}

func baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:         "evt-1",
		Type:       eventType,
		InstanceID: "inst-1",
		TenantID:   "tenant-1",
		SubjectRef: "asset-42",
	}
}

func TestNotifier_StepActivated(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	handler := bus.handlers[events.StepActivatedEvent]
	require.NotNil(t, handler)

	err := handler(context.Background(), &events.StepActivated{
		BaseEvent: baseEvent(events.StepActivatedEvent),
		StepID:    "step-1",
		Sequence:  2,
		Role:      "manager",
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.notifications, 1)

	notification := dispatcher.notifications[0]
	assert.Equal(t, "manager", notification.Role)
	assert.ElementsMatch(t, []string{"bob", "carol"}, notification.Actors)
	assert.Contains(t, notification.Message, "awaits your decision")
}

func TestNotifier_StepActivated_Reverted(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	err := bus.handlers[events.StepActivatedEvent](context.Background(), &events.StepActivated{
		BaseEvent: baseEvent(events.StepActivatedEvent),
		StepID:    "step-1",
		Sequence:  1,
		Role:      "manager",
		Reverted:  true,
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.notifications, 1)
	assert.Contains(t, dispatcher.notifications[0].Message, "reopened after a rejection")
}

func TestNotifier_StepEscalated(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	err := bus.handlers[events.StepEscalatedEvent](context.Background(), &events.StepEscalated{
		BaseEvent: baseEvent(events.StepEscalatedEvent),
		StepID:    "step-1",
		Sequence:  1,
		Role:      "manager",
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.notifications, 1)
	assert.Contains(t, dispatcher.notifications[0].Message, "escalated past its cutoff")
}

func TestNotifier_InstanceCompleted(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	err := bus.handlers[events.InstanceCompletedEvent](context.Background(), &events.InstanceCompleted{
		BaseEvent:  baseEvent(events.InstanceCompletedEvent),
		Kind:       "maintenance",
		RecordID:   "rec-1",
		NotifyRole: "manager",
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.notifications, 1)
	assert.Contains(t, dispatcher.notifications[0].Message, "work is authorized")
}

func TestNotifier_InstanceCompleted_NoRole(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	err := bus.handlers[events.InstanceCompletedEvent](context.Background(), &events.InstanceCompleted{
		BaseEvent: baseEvent(events.InstanceCompletedEvent),
		Kind:      "maintenance",
	})
	require.NoError(t, err)

	assert.Empty(t, dispatcher.notifications)
}

func TestNotifier_UnexpectedPayload(t *testing.T) {
	bus, dispatcher := setupNotifier(t)

	err := bus.handlers[events.StepActivatedEvent](context.Background(), "not an event")
	require.Error(t, err)
	assert.Empty(t, dispatcher.notifications)
}
