// Package statemachine implements the transaction workflow's transition
// table as a pure function, per spec §9's design note: "replace [the
// source's actor-based state-machine library] with a declarative transition
// table ... interpreted by a deterministic function (state, context, event)
// -> (state', context') | InvalidStateTransition. This preserves
// rehydration-from-snapshot semantics without depending on a library."
//
// Nothing here touches storage, goroutines, or wall-clock time beyond
// stamping FailedAt with the originating state name; Orchestrator.Send owns
// persistence and locking.
package statemachine

import (
	"fmt"

	"github.com/reconcore/core/internal/domain"
)

// Event is the input to Apply: an event type plus whatever payload fields
// that event type's transition effect reads (spec §4.1 transition table).
type Event struct {
	Type domain.EventType

	Reason      string   // CANCEL, POLICIES_REJECTED, REJECT, SIGNATURE_FAILED, BROADCAST_RETRY, BROADCAST_FAILED, INDEXING_FAILED
	Approvers   []string // POLICIES_REQUIRE_APPROVAL
	ApprovedBy  string   // APPROVE
	RejectedBy  string   // REJECT
	Signature   string   // SIGNATURE_RECEIVED
	TxHash      string   // BROADCAST_SUCCESS
	BlockNumber *int64   // INDEXING_COMPLETE
}

const defaultCancelReason = "Cancelled by user"

// Apply computes the next (state, context) for one event, or
// domain.ErrInvalidStateTransition if the event is illegal from state.
// Terminal states (completed, failed) never accept any event.
func Apply(state domain.WorkflowState, ctx domain.WorkflowContext, event Event) (domain.WorkflowState, domain.WorkflowContext, error) {
	if state.IsTerminal() {
		return state, ctx, fmt.Errorf("%w: workflow in terminal state %s cannot accept %s", domain.ErrInvalidStateTransition, state, event.Type)
	}

	switch state {
	case domain.WorkflowStateCreated:
		if event.Type == domain.EventStart {
			if ctx.SkipReviewHint {
				return domain.WorkflowStateEvaluatingPolicies, ctx, nil
			}
			return domain.WorkflowStateReview, ctx, nil
		}

	case domain.WorkflowStateReview:
		switch event.Type {
		case domain.EventConfirm:
			return domain.WorkflowStateEvaluatingPolicies, ctx, nil
		case domain.EventCancel:
			return failWith(ctx, event.Reason, defaultCancelReason, domain.WorkflowStateReview)
		}

	case domain.WorkflowStateEvaluatingPolicies:
		switch event.Type {
		case domain.EventPoliciesPassed:
			return domain.WorkflowStateApproved, ctx, nil
		case domain.EventPoliciesRequireApproval:
			ctx.Approvers = event.Approvers
			return domain.WorkflowStateWaitingApproval, ctx, nil
		case domain.EventPoliciesRejected:
			return failWith(ctx, event.Reason, "", domain.WorkflowStateEvaluatingPolicies)
		}

	case domain.WorkflowStateWaitingApproval:
		switch event.Type {
		case domain.EventApprove:
			ctx.ApprovedBy = event.ApprovedBy
			return domain.WorkflowStateApproved, ctx, nil
		case domain.EventReject:
			return failWith(ctx, event.Reason, "", domain.WorkflowStateWaitingApproval)
		}

	case domain.WorkflowStateApproved:
		if event.Type == domain.EventRequestSignature {
			return domain.WorkflowStateWaitingSignature, ctx, nil
		}

	case domain.WorkflowStateWaitingSignature:
		switch event.Type {
		case domain.EventSignatureReceived:
			ctx.Signature = event.Signature
			return domain.WorkflowStateBroadcasting, ctx, nil
		case domain.EventSignatureFailed:
			return failWith(ctx, event.Reason, "", domain.WorkflowStateWaitingSignature)
		}

	case domain.WorkflowStateBroadcasting:
		switch event.Type {
		case domain.EventBroadcastSuccess:
			ctx.TxHash = event.TxHash
			return domain.WorkflowStateIndexing, ctx, nil
		case domain.EventBroadcastRetry:
			maxAttempts := ctx.MaxBroadcastAttempts
			if maxAttempts <= 0 {
				maxAttempts = domain.DefaultMaxBroadcastAttempts
			}
			if ctx.BroadcastAttempts < maxAttempts {
				ctx.BroadcastAttempts++
				return domain.WorkflowStateBroadcasting, ctx, nil
			}
			return failWith(ctx, event.Reason, "", domain.WorkflowStateBroadcasting)
		case domain.EventBroadcastFailed:
			return failWith(ctx, event.Reason, "", domain.WorkflowStateBroadcasting)
		}

	case domain.WorkflowStateIndexing:
		switch event.Type {
		case domain.EventIndexingComplete:
			ctx.BlockNumber = event.BlockNumber
			return domain.WorkflowStateCompleted, ctx, nil
		case domain.EventIndexingFailed:
			return failWith(ctx, event.Reason, "", domain.WorkflowStateIndexing)
		}
	}

	return state, ctx, fmt.Errorf("%w: event %s is not legal from state %s", domain.ErrInvalidStateTransition, event.Type, state)
}

func failWith(ctx domain.WorkflowContext, reason, fallback string, from domain.WorkflowState) (domain.WorkflowState, domain.WorkflowContext, error) {
	if reason == "" {
		reason = fallback
	}
	ctx.Error = reason
	ctx.FailedAt = string(from)
	return domain.WorkflowStateFailed, ctx, nil
}
