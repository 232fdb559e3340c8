// Package engine is the transactional core of the approval workflow: it
// validates and applies decisions against pending steps, drives the
// sequencer, records the audit trail and fires downstream side effects.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asseto/signoff/pkg/completion"
	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/events"
	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/otelhelper"
	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/roles"
	"github.com/asseto/signoff/pkg/sequencer"
)

// Engine processes approval decisions. It is safe for concurrent use; the
// conditional step update in the persistence layer is the only lock.
type Engine struct {
	persistence persistence.Persistence
	directory   roles.Directory
	publisher   eventbus.EventPublisher
	completion  completion.Handler
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewEngine creates a new decision engine. The publisher may be nil, in
// which case no lifecycle events are emitted.
func NewEngine(
	logger *slog.Logger,
	store persistence.Persistence,
	directory roles.Directory,
	publisher eventbus.EventPublisher,
	completionHandler completion.Handler,
) *Engine {
	return &Engine{
		persistence: store,
		directory:   directory,
		publisher:   publisher,
		completion:  completionHandler,
		logger:      logger,
		tracer:      otel.Tracer("signoff.engine"),
	}
}

// CreateInstanceRequest carries everything needed to open an approval chain.
type CreateInstanceRequest struct {
	TenantID     string             `validate:"required"`
	SubjectRef   string             `validate:"required"`
	Kind         string             `validate:"required"`
	DueDate      time.Time          `validate:"required"`
	LeadTimeDays int                `validate:"min=0"`
	Routing      models.RoutingPlan `validate:"required"`
	Metadata     map[string]any
}

// CreateInstance builds the header and its steps, activates sequence 1 and
// persists everything atomically. A malformed routing plan fails closed:
// nothing is created.
func (e *Engine) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*models.Instance, error) {
	if err := req.Routing.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	instanceID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}

	instance := &models.Instance{
		ID:           instanceID.String(),
		TenantID:     req.TenantID,
		SubjectRef:   req.SubjectRef,
		Kind:         req.Kind,
		DueDate:      req.DueDate,
		LeadTimeDays: req.LeadTimeDays,
		Status:       models.InstanceStatusInitiated,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, routingStep := range req.Routing {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step ID: %w", err)
		}

		instance.Steps = append(instance.Steps, &models.Step{
			ID:         stepID.String(),
			InstanceID: instance.ID,
			Sequence:   routingStep.Sequence,
			Role:       routingStep.Role,
			Status:     models.StepStatusInactive,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	first, err := sequencer.ActivateFirst(instance, now)
	if err != nil {
		return nil, err
	}

	if err := e.persistence.InstanceRepository().Create(ctx, instance); err != nil {
		return nil, err
	}

	e.appendHistory(ctx, &models.HistoryEntry{
		InstanceID: instance.ID,
		StepID:     first.ID,
		Action:     models.HistoryActionActivated,
		Actor:      models.SystemActor,
		Timestamp:  now,
	})

	e.publishStepActivated(ctx, instance, first, false)

	e.logger.InfoContext(ctx, "Approval instance created",
		"instance_id", instance.ID, "subject_ref", instance.SubjectRef,
		"steps", len(instance.Steps), "cutoff", instance.CutoffDate())

	return instance, nil
}

// SubmitDecisionRequest is one actor's decision against a pending step.
type SubmitDecisionRequest struct {
	InstanceID string
	StepID     string
	Action     models.DecisionAction
	Actor      string
	Notes      string
}

// DecisionResult reports the settled outcome of a decision.
type DecisionResult struct {
	InstanceStatus models.InstanceStatus `json:"instance_status"`
	DecidedStep    *models.Step          `json:"decided_step"`
	ActivatedStep  *models.Step          `json:"activated_step,omitempty"`
	Reverted       bool                  `json:"reverted,omitempty"`
}

// SubmitDecision validates and applies an approve or reject decision. Of two
// racing actors exactly one succeeds; the other receives ErrStaleStep.
func (e *Engine) SubmitDecision(ctx context.Context, req SubmitDecisionRequest) (*DecisionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.submit_decision",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.StepIDKey, req.StepID),
		attribute.String(otelhelper.ActorKey, req.Actor),
		attribute.String(otelhelper.ActionKey, string(req.Action)),
	)
	defer span.End()

	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	instance, err := e.persistence.InstanceRepository().GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusInProgress {
		return nil, fmt.Errorf("%w: instance %s is %s", ErrInstanceNotInProgress, instance.ID, instance.Status)
	}

	step := instance.StepByID(req.StepID)
	if step == nil {
		return nil, persistence.NewStepError("SubmitDecision", req.StepID, ErrStepNotFound)
	}

	// Precise rejection on a fresh snapshot; the conditional write below
	// remains the authority under races.
	switch step.Status {
	case models.StepStatusActionPending:
	case models.StepStatusInactive:
		return nil, persistence.NewStepError("SubmitDecision", req.StepID, persistence.ErrStepNotActive)
	default:
		return nil, persistence.NewStepError("SubmitDecision", req.StepID, ErrStaleStep)
	}

	holds, err := roles.HoldsRole(ctx, e.directory, instance.TenantID, req.Actor, step.Role)
	if err != nil {
		return nil, fmt.Errorf("role lookup failed: %w", err)
	}

	if !holds {
		return nil, fmt.Errorf("%w: actor %s, role %s", ErrUnauthorized, req.Actor, step.Role)
	}

	now := time.Now().UTC()

	var notes *string
	if req.Notes != "" {
		notes = &req.Notes
	}

	var transition sequencer.Transition

	if req.Action == models.DecisionApprove {
		transition, err = sequencer.Advance(instance, step, models.StepStatusApproved, now)
	} else {
		transition, err = sequencer.Revert(instance, step, now)
	}

	if err != nil {
		return nil, fmt.Errorf("sequencing failed for decision on step %s: %w", step.ID, err)
	}

	step.DecidedBy = &req.Actor
	step.DecidedAt = &now
	step.Notes = notes

	// The atomic write: whoever moves the step out of action_pending first
	// wins, and the activation, instance status and audit entries commit
	// with the decision or not at all.
	if err := e.persistTransition(ctx, instance, transition, &req.Actor, notes, req.Actor, req.Notes, now); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.announceTransition(ctx, instance, transition, req.Actor, req.Notes, now)

	return &DecisionResult{
		InstanceStatus: transition.InstanceStatus,
		DecidedStep:    step,
		ActivatedStep:  transition.Activated,
		Reverted:       transition.Reverted,
	}, nil
}

// EscalateStep force-advances a stalled pending step past the cutoff date.
// It shares the conditional guard with SubmitDecision, so a human decision
// landing at the same moment makes this a no-op (ErrStaleStep).
func (e *Engine) EscalateStep(ctx context.Context, instance *models.Instance, step *models.Step, now time.Time) (*DecisionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.escalate_step",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
	)
	defer span.End()

	if step.Status != models.StepStatusActionPending {
		return nil, persistence.NewStepError("EscalateStep", step.ID, ErrStaleStep)
	}

	transition, err := sequencer.Advance(instance, step, models.StepStatusEscalated, now)
	if err != nil {
		return nil, fmt.Errorf("sequencing failed for escalation of step %s: %w", step.ID, err)
	}

	const escalationNote = "cutoff date elapsed without decision"

	if err := e.persistTransition(ctx, instance, transition, nil, nil, models.SystemActor, escalationNote, now); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.announceTransition(ctx, instance, transition, models.SystemActor, escalationNote, now)

	return &DecisionResult{
		InstanceStatus: transition.InstanceStatus,
		DecidedStep:    step,
		ActivatedStep:  transition.Activated,
	}, nil
}

// persistTransition turns a computed transition into one atomic write: the
// conditional step update, the follow-up activation or terminal instance
// status, and the audit entries. Either everything commits or the decision
// never happened, so an instance can never be left in progress without a
// pending step.
func (e *Engine) persistTransition(ctx context.Context, instance *models.Instance, transition sequencer.Transition, decidedBy *string, notes *string, actor, noteText string, now time.Time) error {
	decided := transition.Decided

	write := persistence.DecisionWrite{
		InstanceID: instance.ID,
		StepID:     decided.ID,
		FromStatus: models.StepStatusActionPending,
		ToStatus:   decided.Status,
		DecidedBy:  decidedBy,
		Notes:      notes,
		DecidedAt:  now,
	}

	entry, err := e.newHistoryEntry(instance.ID, decided.ID, historyActionFor(decided.Status), actor, noteText, now)
	if err != nil {
		return err
	}

	write.History = append(write.History, entry)

	switch {
	case transition.Activated != nil:
		write.ActivateStepID = transition.Activated.ID

		action := models.HistoryActionActivated
		if transition.Reverted {
			action = models.HistoryActionReverted
		}

		entry, err := e.newHistoryEntry(instance.ID, transition.Activated.ID, action, models.SystemActor, "", now)
		if err != nil {
			return err
		}

		write.History = append(write.History, entry)

	case transition.InstanceStatus.Terminal():
		status := transition.InstanceStatus
		write.InstanceStatus = &status
		write.CompletedAt = instance.CompletedAt

		action := models.HistoryActionCompleted
		if transition.Cancelled() {
			action = models.HistoryActionCancelled
		}

		entry, err := e.newHistoryEntry(instance.ID, "", action, models.SystemActor, "", now)
		if err != nil {
			return err
		}

		write.History = append(write.History, entry)
	}

	return e.persistence.ApplyDecision(ctx, write)
}

// announceTransition fires the post-commit side effects: lifecycle events
// and the completion handler. These never unwind the committed decision.
func (e *Engine) announceTransition(ctx context.Context, instance *models.Instance, transition sequencer.Transition, actor, notes string, now time.Time) {
	e.publishDecision(ctx, instance, transition.Decided, actor, notes)

	if transition.Activated != nil {
		e.publishStepActivated(ctx, instance, transition.Activated, transition.Reverted)

		return
	}

	if transition.Cancelled() {
		e.publish(ctx, instance.ID, events.InstanceCancelled{
			BaseEvent: e.baseEvent(events.InstanceCancelledEvent, instance, now),
			Kind:      instance.Kind,
			Notes:     notes,
		})

		return
	}

	if transition.Completed() {
		e.handleCompletion(ctx, instance, now)
	}
}

// handleCompletion fires the downstream side effect. A failure is reported
// but never reverts the completed status; re-invocation is safe through the
// handler's idempotency contract.
func (e *Engine) handleCompletion(ctx context.Context, instance *models.Instance, now time.Time) {
	var recordID string

	if e.completion != nil {
		record, err := e.completion.OnCompleted(ctx, instance)
		if err != nil {
			e.logger.ErrorContext(ctx, "Completion handler failed, instance stays completed",
				"instance_id", instance.ID, "error", err)
		} else if record != nil {
			recordID = record.ID
		}
	}

	e.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent:  e.baseEvent(events.InstanceCompletedEvent, instance, now),
		Kind:       instance.Kind,
		RecordID:   recordID,
		NotifyRole: e.notifyRole(instance),
	})
}

// RetryCompletion re-invokes the completion side effect for an already
// completed instance, e.g. after a crash between commit and record creation.
func (e *Engine) RetryCompletion(ctx context.Context, instanceID string) error {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status != models.InstanceStatusCompleted {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotInProgress, instance.ID, instance.Status)
	}

	e.handleCompletion(ctx, instance, time.Now().UTC())

	return nil
}

// InstanceView is the read model for UIs: the header, its steps and the
// audit trail.
type InstanceView struct {
	*models.Instance

	History []*models.HistoryEntry `json:"history"`
}

// GetInstance returns the instance with steps and history loaded.
func (e *Engine) GetInstance(ctx context.Context, id string) (*InstanceView, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := e.persistence.HistoryRepository().ListByInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	return &InstanceView{Instance: instance, History: history}, nil
}

// ListInstances returns a page of instances.
func (e *Engine) ListInstances(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.ListInstancesResult, error) {
	return e.persistence.InstanceRepository().List(ctx, opts)
}

// HealthCheck checks the health of the persistence layer.
func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	if e.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := e.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (e *Engine) newHistoryEntry(instanceID, stepID string, action models.HistoryAction, actor, notes string, now time.Time) (*models.HistoryEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate history ID: %w", err)
	}

	return &models.HistoryEntry{
		ID:         id.String(),
		InstanceID: instanceID,
		StepID:     stepID,
		Action:     action,
		Actor:      actor,
		Timestamp:  now,
		Notes:      notes,
	}, nil
}

func (e *Engine) appendHistory(ctx context.Context, entry *models.HistoryEntry) {
	id, err := uuid.NewV7()
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to generate history ID", "error", err)

		return
	}

	entry.ID = id.String()

	if err := e.persistence.HistoryRepository().Append(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "Failed to append history entry",
			"instance_id", entry.InstanceID, "action", entry.Action, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, instance *models.Instance, now time.Time) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  now,
		InstanceID: instance.ID,
		TenantID:   instance.TenantID,
		SubjectRef: instance.SubjectRef,
	}
}

func (e *Engine) publishStepActivated(ctx context.Context, instance *models.Instance, step *models.Step, reverted bool) {
	e.publish(ctx, instance.ID, events.StepActivated{
		BaseEvent: e.baseEvent(events.StepActivatedEvent, instance, step.UpdatedAt),
		StepID:    step.ID,
		Sequence:  step.Sequence,
		Role:      step.Role,
		Reverted:  reverted,
	})
}

func (e *Engine) publishDecision(ctx context.Context, instance *models.Instance, step *models.Step, actor, notes string) {
	switch step.Status {
	case models.StepStatusApproved:
		e.publish(ctx, instance.ID, events.StepApproved{
			BaseEvent: e.baseEvent(events.StepApprovedEvent, instance, step.UpdatedAt),
			StepID:    step.ID,
			Sequence:  step.Sequence,
			Role:      step.Role,
			Actor:     actor,
		})
	case models.StepStatusRejected:
		e.publish(ctx, instance.ID, events.StepRejected{
			BaseEvent: e.baseEvent(events.StepRejectedEvent, instance, step.UpdatedAt),
			StepID:    step.ID,
			Sequence:  step.Sequence,
			Role:      step.Role,
			Actor:     actor,
			Notes:     notes,
		})
	case models.StepStatusEscalated:
		e.publish(ctx, instance.ID, events.StepEscalated{
			BaseEvent: e.baseEvent(events.StepEscalatedEvent, instance, step.UpdatedAt),
			StepID:    step.ID,
			Sequence:  step.Sequence,
			Role:      step.Role,
			Cutoff:    instance.CutoffDate(),
		})
	default:
	}
}

// publish is fire-and-forget: a notification failure never unwinds the
// already committed state change.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}

// notifyRole resolves the role responsible for acting on the downstream
// record: an explicit execute_role metadata entry, else the role of the
// highest-sequence step.
func (e *Engine) notifyRole(instance *models.Instance) string {
	if role, ok := instance.Metadata["execute_role"].(string); ok && role != "" {
		return role
	}

	var last *models.Step

	for _, step := range instance.Steps {
		if last == nil || step.Sequence > last.Sequence {
			last = step
		}
	}

	if last == nil {
		return ""
	}

	return last.Role
}

func historyActionFor(status models.StepStatus) models.HistoryAction {
	switch status {
	case models.StepStatusApproved:
		return models.HistoryActionApproved
	case models.StepStatusRejected:
		return models.HistoryActionRejected
	case models.StepStatusEscalated:
		return models.HistoryActionEscalated
	default:
		return models.HistoryActionActivated
	}
}
