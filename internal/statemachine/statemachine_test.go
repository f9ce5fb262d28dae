package statemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/statemachine"
)

func TestApply_CreatedStart_RoutesOnSkipReviewHint(t *testing.T) {
	state, ctx, err := statemachine.Apply(domain.WorkflowStateCreated, domain.WorkflowContext{SkipReviewHint: false}, statemachine.Event{Type: domain.EventStart})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateReview, state)
	_ = ctx

	state, _, err = statemachine.Apply(domain.WorkflowStateCreated, domain.WorkflowContext{SkipReviewHint: true}, statemachine.Event{Type: domain.EventStart})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateEvaluatingPolicies, state)
}

func TestApply_CancelSetsDefaultReason(t *testing.T) {
	state, ctx, err := statemachine.Apply(domain.WorkflowStateReview, domain.WorkflowContext{}, statemachine.Event{Type: domain.EventCancel})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateFailed, state)
	assert.Equal(t, "Cancelled by user", ctx.Error)
	assert.Equal(t, string(domain.WorkflowStateReview), ctx.FailedAt)
}

func TestApply_RejectsIllegalEvents(t *testing.T) {
	_, _, err := statemachine.Apply(domain.WorkflowStateApproved, domain.WorkflowContext{}, statemachine.Event{Type: domain.EventConfirm})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestApply_TerminalStatesRejectEverything(t *testing.T) {
	for _, s := range []domain.WorkflowState{domain.WorkflowStateCompleted, domain.WorkflowStateFailed} {
		_, _, err := statemachine.Apply(s, domain.WorkflowContext{}, statemachine.Event{Type: domain.EventStart})
		require.ErrorIsf(t, err, domain.ErrInvalidStateTransition, "state %s", s)
	}
}

func TestApply_WaitingApprovalApproveCarriesApprovedBy(t *testing.T) {
	state, ctx, err := statemachine.Apply(domain.WorkflowStateWaitingApproval, domain.WorkflowContext{}, statemachine.Event{Type: domain.EventApprove, ApprovedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStateApproved, state)
	assert.Equal(t, "alice", ctx.ApprovedBy)
}
