package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/orchestrator"
	"github.com/reconcore/core/internal/statemachine"
)

// fakeStore is an in-memory Store good enough to exercise the orchestrator's
// locking and version-conditional write contract without a database.
type fakeStore struct {
	mu        sync.Mutex
	workflows map[string]domain.Workflow
	events    map[string][]domain.WorkflowEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: make(map[string]domain.Workflow),
		events:    make(map[string][]domain.WorkflowEvent),
	}
}

func (f *fakeStore) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.ID] = *wf
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &wf, nil
}

func (f *fakeStore) ListWorkflowEvents(_ context.Context, workflowID string) ([]domain.WorkflowEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WorkflowEvent(nil), f.events[workflowID]...), nil
}

func (f *fakeStore) ApplyTransition(_ context.Context, id string, fn func(current *domain.Workflow) (*domain.Workflow, *domain.WorkflowEvent, error)) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.workflows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	next, evt, err := fn(&current)
	if err != nil {
		return nil, err
	}

	f.workflows[id] = *next
	f.events[id] = append(f.events[id], *evt)
	return next, nil
}

func newOrchestrator() (*orchestrator.Orchestrator, *fakeStore) {
	store := newFakeStore()
	return orchestrator.New(store, clock.Frozen{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}), store
}

func system() domain.Principal { return domain.Principal{ID: "sys", Type: domain.PrincipalSystem} }

// TestHappyWorkflow walks spec §8 scenario 1 end to end.
func TestHappyWorkflow(t *testing.T) {
	o, _ := newOrchestrator()
	ctx := context.Background()

	wf, err := o.Create(ctx, domain.CreateWorkflowInput{SkipReview: false})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateCreated, wf.State)
	assert.EqualValues(t, 1, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventStart}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateReview, wf.State)
	assert.EqualValues(t, 2, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventConfirm}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateEvaluatingPolicies, wf.State)
	assert.EqualValues(t, 3, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventPoliciesRequireApproval, Approvers: []string{"A", "B"}}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateWaitingApproval, wf.State)
	assert.EqualValues(t, 4, wf.Version)
	assert.Equal(t, []string{"A", "B"}, wf.Context.Approvers)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventApprove, ApprovedBy: "A"}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateApproved, wf.State)
	assert.EqualValues(t, 5, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventRequestSignature}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateWaitingSignature, wf.State)
	assert.EqualValues(t, 6, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventSignatureReceived, Signature: "0xsig"}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateBroadcasting, wf.State)
	assert.EqualValues(t, 7, wf.Version)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventBroadcastSuccess, TxHash: "0xdead"}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateIndexing, wf.State)
	assert.EqualValues(t, 8, wf.Version)

	blockNumber := int64(100)
	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventIndexingComplete, BlockNumber: &blockNumber}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateCompleted, wf.State)
	assert.EqualValues(t, 9, wf.Version)

	history, err := o.GetHistory(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, history, 8)
}

// TestSkipReviewPath covers spec §8 scenario 2.
func TestSkipReviewPath(t *testing.T) {
	o, _ := newOrchestrator()
	ctx := context.Background()

	wf, err := o.Create(ctx, domain.CreateWorkflowInput{SkipReview: true})
	require.NoError(t, err)

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventStart}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateEvaluatingPolicies, wf.State)
}

// TestIllegalEventFromTerminalState covers spec §8 scenario 3: no row
// changes and no event row on a rejected transition.
func TestIllegalEventFromTerminalState(t *testing.T) {
	o, store := newOrchestrator()
	ctx := context.Background()

	wf, err := o.Create(ctx, domain.CreateWorkflowInput{SkipReview: true})
	require.NoError(t, err)
	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventStart}, system())
	require.NoError(t, err)
	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventPoliciesRejected, Reason: "bad policy"}, system())
	require.NoError(t, err)
	require.Equal(t, domain.WorkflowStateFailed, wf.State)

	versionBefore := wf.Version
	eventsBefore := len(store.events[wf.ID])

	_, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventStart}, system())
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	current, err := o.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, versionBefore, current.Version)
	assert.Len(t, store.events[wf.ID], eventsBefore)
}

// TestBroadcastRetryExhaustion exercises the broadcasting/BROADCAST_RETRY
// counter and its forced transition to failed once attempts are exhausted.
func TestBroadcastRetryExhaustion(t *testing.T) {
	o, _ := newOrchestrator()
	ctx := context.Background()

	wf, err := o.Create(ctx, domain.CreateWorkflowInput{SkipReview: true})
	require.NoError(t, err)
	for _, evt := range []statemachine.Event{
		{Type: domain.EventStart},
		{Type: domain.EventPoliciesPassed},
		{Type: domain.EventRequestSignature},
		{Type: domain.EventSignatureReceived, Signature: "0xsig"},
	} {
		wf, err = o.Send(ctx, wf.ID, evt, system())
		require.NoError(t, err)
	}
	require.Equal(t, domain.WorkflowStateBroadcasting, wf.State)

	for i := 0; i < domain.DefaultMaxBroadcastAttempts; i++ {
		wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventBroadcastRetry, Reason: "rpc timeout"}, system())
		require.NoError(t, err)
		require.Equal(t, domain.WorkflowStateBroadcasting, wf.State)
	}

	wf, err = o.Send(ctx, wf.ID, statemachine.Event{Type: domain.EventBroadcastRetry, Reason: "rpc timeout"}, system())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateFailed, wf.State)
	assert.Equal(t, "rpc timeout", wf.Context.Error)
}
