package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asseto/signoff/pkg/completion"
	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/persistence/file"
	"github.com/asseto/signoff/pkg/roles"
)

func newTestEngine(t *testing.T) (*Engine, persistence.Persistence, *roles.StaticDirectory) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	directory := roles.NewStaticDirectory()
	recorder := completion.NewRecorder(store.ExecutionRecordRepository(), slog.Default())
	eng := NewEngine(slog.Default(), store, directory, nil, recorder)

	return eng, store, directory
}

func defaultRequest(routing models.RoutingPlan) CreateInstanceRequest {
	return CreateInstanceRequest{
		TenantID:     "tenant-1",
		SubjectRef:   "asset-42",
		Kind:         "maintenance",
		DueDate:      time.Now().UTC().AddDate(0, 0, 30),
		LeadTimeDays: 5,
		Routing:      routing,
	}
}

func twoLevelRouting() models.RoutingPlan {
	return models.RoutingPlan{
		{Sequence: 1, Role: "supervisor"},
		{Sequence: 2, Role: "manager"},
	}
}

func threeLevelRouting() models.RoutingPlan {
	return models.RoutingPlan{
		{Sequence: 1, Role: "supervisor"},
		{Sequence: 2, Role: "manager"},
		{Sequence: 3, Role: "director"},
	}
}

func grantDefaults(directory *roles.StaticDirectory) {
	directory.Grant("tenant-1", "supervisor", "alice")
	directory.Grant("tenant-1", "manager", "bob")
	directory.Grant("tenant-1", "director", "carol")
}

func TestCreateInstance(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, models.InstanceStatusInProgress, instance.Status)
	require.Len(t, instance.Steps, 2)
	assert.Equal(t, models.StepStatusActionPending, instance.Steps[0].Status)
	assert.Equal(t, models.StepStatusInactive, instance.Steps[1].Status)

	history, err := store.HistoryRepository().ListByInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryActionActivated, history[0].Action)
	assert.Equal(t, models.SystemActor, history[0].Actor)
}

func TestCreateInstance_InvalidRoutingFailsClosed(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	req := defaultRequest(models.RoutingPlan{
		{Sequence: 1, Role: "supervisor"},
		{Sequence: 3, Role: "manager"},
	})

	_, err := eng.CreateInstance(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidSequence)

	result, err := store.InstanceRepository().List(ctx, persistence.ListInstancesOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Instances)
}

func TestCreateInstance_DuplicateSubjectRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicateInstance(err))
}

func TestSubmitDecision_ApproveChainToCompletion(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	result, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusInProgress, result.InstanceStatus)
	require.NotNil(t, result.ActivatedStep)
	assert.Equal(t, 2, result.ActivatedStep.Sequence)

	result, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[1].ID,
		Action:     models.DecisionApprove,
		Actor:      "bob",
		Notes:      "budget confirmed",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, result.InstanceStatus)
	assert.Nil(t, result.ActivatedStep)

	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)

	record, err := store.ExecutionRecordRepository().GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, record.InstanceID)
	assert.Equal(t, "maintenance", record.Kind)
}

func TestSubmitDecision_RejectionPushesBack(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	result, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[1].ID,
		Action:     models.DecisionReject,
		Actor:      "bob",
		Notes:      "scope unclear",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusInProgress, result.InstanceStatus)
	assert.True(t, result.Reverted)
	require.NotNil(t, result.ActivatedStep)
	assert.Equal(t, 1, result.ActivatedStep.Sequence)

	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)

	reopened := loaded.StepByID(instance.Steps[0].ID)
	assert.Equal(t, models.StepStatusActionPending, reopened.Status)
	assert.Nil(t, reopened.DecidedBy)
	assert.Equal(t, models.StepStatusRejected, loaded.StepByID(instance.Steps[1].ID).Status)
}

func TestSubmitDecision_ReapprovalBypassesRejectedStep(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	decisions := []SubmitDecisionRequest{
		{InstanceID: instance.ID, StepID: instance.Steps[0].ID, Action: models.DecisionApprove, Actor: "alice"},
		{InstanceID: instance.ID, StepID: instance.Steps[1].ID, Action: models.DecisionReject, Actor: "bob"},
	}
	for _, req := range decisions {
		_, err = eng.SubmitDecision(ctx, req)
		require.NoError(t, err)
	}

	// The reopened supervisor step is the last live step; its approval must
	// bypass the rejected manager step and complete the chain.
	result, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, result.InstanceStatus)

	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRejected, loaded.StepByID(instance.Steps[1].ID).Status)
}

func TestSubmitDecision_FirstStepRejectionCancels(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(threeLevelRouting()))
	require.NoError(t, err)

	result, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionReject,
		Actor:      "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, result.InstanceStatus)

	// A cancelled chain authorizes nothing downstream.
	_, err = store.ExecutionRecordRepository().GetByInstanceID(ctx, instance.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrRecordNotFound)

	// And no further decisions are accepted.
	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstanceNotInProgress)
}

func TestSubmitDecision_Unauthorized(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	directory.Grant("tenant-1", "supervisor", "alice")
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "mallory",
	})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestSubmitDecision_InvalidAction(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionAction("escalate"),
		Actor:      "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestSubmitDecision_StaleStep(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	directory.Grant("tenant-1", "supervisor", "carol")
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(threeLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	// Carol decides against the already settled step.
	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionReject,
		Actor:      "carol",
	})
	require.Error(t, err)
	assert.True(t, IsStaleStep(err))
}

func TestSubmitDecision_InactiveStep(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	// The chain has not reached the manager step yet; this is not a lost
	// race, nobody decided anything.
	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[1].ID,
		Action:     models.DecisionApprove,
		Actor:      "bob",
	})
	require.Error(t, err)
	assert.True(t, IsStepNotActive(err))
	assert.False(t, IsStaleStep(err))
}

// unreliableStore injects a failure into the atomic decision write.
type unreliableStore struct {
	persistence.Persistence

	failWrites bool
}

func (s *unreliableStore) ApplyDecision(ctx context.Context, write persistence.DecisionWrite) error {
	if s.failWrites {
		return errors.New("connection reset")
	}

	return s.Persistence.ApplyDecision(ctx, write)
}

func TestSubmitDecision_FailedWriteLeavesStepPending(t *testing.T) {
	store := &unreliableStore{Persistence: file.NewPersistence(t.TempDir())}
	directory := roles.NewStaticDirectory()
	grantDefaults(directory)

	recorder := completion.NewRecorder(store.ExecutionRecordRepository(), slog.Default())
	eng := NewEngine(slog.Default(), store, directory, nil, recorder)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	store.failWrites = true

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.Error(t, err)

	// The failed write must not strand the chain: nothing committed, the
	// supervisor step is still pending and the decision can be retried.
	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, loaded.Status)
	require.NotNil(t, loaded.PendingStep())
	assert.Equal(t, instance.Steps[0].ID, loaded.PendingStep().ID)

	store.failWrites = false

	result, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, result.ActivatedStep)
	assert.Equal(t, 2, result.ActivatedStep.Sequence)
}

func TestSubmitDecision_ConcurrentActorsOneWinner(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	ctx := context.Background()

	actors := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	for _, actor := range actors {
		directory.Grant("tenant-1", "supervisor", actor)
	}

	directory.Grant("tenant-1", "manager", "bob")

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		stale     int
	)

	for _, actor := range actors {
		wg.Add(1)

		go func(actor string) {
			defer wg.Done()

			_, err := eng.SubmitDecision(ctx, SubmitDecisionRequest{
				InstanceID: instance.ID,
				StepID:     instance.Steps[0].ID,
				Action:     models.DecisionApprove,
				Actor:      actor,
			})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case IsStaleStep(err):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actor)
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(actors)-1, stale)

	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusApproved, loaded.StepByID(instance.Steps[0].ID).Status)
	assert.Equal(t, models.StepStatusActionPending, loaded.StepByID(instance.Steps[1].ID).Status)
}

func TestEscalateStep(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()
	now := time.Now().UTC()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	result, err := eng.EscalateStep(ctx, instance, instance.Steps[0], now)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusInProgress, result.InstanceStatus)
	require.NotNil(t, result.ActivatedStep)
	assert.Equal(t, 2, result.ActivatedStep.Sequence)

	loaded, err := store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)

	escalated := loaded.StepByID(instance.Steps[0].ID)
	assert.Equal(t, models.StepStatusEscalated, escalated.Status)
	assert.Nil(t, escalated.DecidedBy)

	history, err := store.HistoryRepository().ListByInstance(ctx, instance.ID)
	require.NoError(t, err)

	var found bool

	for _, entry := range history {
		if entry.Action == models.HistoryActionEscalated {
			found = true

			assert.Equal(t, models.SystemActor, entry.Actor)
		}
	}

	assert.True(t, found, "expected an escalated history entry")
}

func TestEscalateStep_StaleAfterHumanDecision(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	// The sweeper holds a pre-decision snapshot; its escalation must lose.
	stored, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, stored.Status)

	_, err = eng.EscalateStep(ctx, instance, instance.Steps[0], time.Now().UTC())
	require.Error(t, err)
	assert.True(t, persistence.IsStaleStep(err))
}

func TestRetryCompletion_Idempotent(t *testing.T) {
	eng, store, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	for _, req := range []SubmitDecisionRequest{
		{InstanceID: instance.ID, StepID: instance.Steps[0].ID, Action: models.DecisionApprove, Actor: "alice"},
		{InstanceID: instance.ID, StepID: instance.Steps[1].ID, Action: models.DecisionApprove, Actor: "bob"},
	} {
		_, err = eng.SubmitDecision(ctx, req)
		require.NoError(t, err)
	}

	first, err := store.ExecutionRecordRepository().GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)

	require.NoError(t, eng.RetryCompletion(ctx, instance.ID))

	second, err := store.ExecutionRecordRepository().GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRetryCompletion_NotCompleted(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	err = eng.RetryCompletion(ctx, instance.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstanceNotInProgress)
}

func TestGetInstance_IncludesHistory(t *testing.T) {
	eng, _, directory := newTestEngine(t)
	grantDefaults(directory)
	ctx := context.Background()

	instance, err := eng.CreateInstance(ctx, defaultRequest(twoLevelRouting()))
	require.NoError(t, err)

	_, err = eng.SubmitDecision(ctx, SubmitDecisionRequest{
		InstanceID: instance.ID,
		StepID:     instance.Steps[0].ID,
		Action:     models.DecisionApprove,
		Actor:      "alice",
	})
	require.NoError(t, err)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)

	assert.Equal(t, instance.ID, view.ID)
	assert.Len(t, view.Steps, 2)
	// activated + approved + activated
	assert.Len(t, view.History, 3)
}

func TestGetInstance_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.GetInstance(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}
