// Package orchestrator drives a Workflow through the transaction state
// machine (internal/statemachine), enforcing optimistic concurrency and
// recording every accepted transition as an append-only event (spec §4.1).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/statemachine"
)

// Store is the persistence contract the Orchestrator depends on. The
// Postgres implementation (internal/storage/postgres) backs ApplyTransition
// with a single `SELECT ... FOR UPDATE` + conditional `UPDATE` + event
// `INSERT` transaction, so the lock is held only for the duration of one
// round trip (spec §5 "Workflow updates").
type Store interface {
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflowEvents(ctx context.Context, workflowID string) ([]domain.WorkflowEvent, error)

	// ApplyTransition locks the workflow row, passes the current state to fn,
	// and — if fn returns a next state without error — writes the updated
	// workflow (version+1) and the event row atomically, conditioned on the
	// version fn observed. Returns domain.ErrConcurrentModification if the
	// conditional update affects zero rows, domain.ErrNotFound if no such
	// workflow exists. fn's own error (e.g. domain.ErrInvalidStateTransition)
	// aborts the transaction without writing anything.
	ApplyTransition(ctx context.Context, id string, fn func(current *domain.Workflow) (next *domain.Workflow, event *domain.WorkflowEvent, err error)) (*domain.Workflow, error)
}

// Orchestrator implements the four public workflow operations of spec §4.1.
type Orchestrator struct {
	store Store
	clock clock.Clock
}

// New constructs an Orchestrator backed by store, using clk as the time source.
func New(store Store, clk clock.Clock) *Orchestrator {
	return &Orchestrator{store: store, clock: clk}
}

// Create persists a new workflow in state `created` with version 1.
func (o *Orchestrator) Create(ctx context.Context, input domain.CreateWorkflowInput) (*domain.Workflow, error) {
	now := o.clock.Now()
	wf := &domain.Workflow{
		ID:             uuid.NewString(),
		VaultID:        input.VaultID,
		ChainAlias:     input.ChainAlias,
		MarshalledHex:  input.MarshalledHex,
		OrganisationID: input.OrganisationID,
		CreatedBy:      input.CreatedBy,
		SkipReview:     input.SkipReview,
		State:          domain.WorkflowStateCreated,
		Context: domain.WorkflowContext{
			SkipReviewHint:       input.SkipReview,
			MaxBroadcastAttempts: domain.DefaultMaxBroadcastAttempts,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return wf, nil
}

// Send applies one event to a workflow, atomically writing the new
// (state, context, version) and an event row, or returning
// domain.ErrNotFound / domain.ErrInvalidStateTransition /
// domain.ErrConcurrentModification.
func (o *Orchestrator) Send(ctx context.Context, id string, event statemachine.Event, triggeredBy domain.Principal) (*domain.Workflow, error) {
	now := o.clock.Now()

	updated, err := o.store.ApplyTransition(ctx, id, func(current *domain.Workflow) (*domain.Workflow, *domain.WorkflowEvent, error) {
		nextState, nextCtx, err := statemachine.Apply(current.State, current.Context, event)
		if err != nil {
			return nil, nil, err
		}

		next := *current
		next.State = nextState
		next.Context = nextCtx
		next.Version = current.Version + 1
		next.UpdatedAt = now

		evt := &domain.WorkflowEvent{
			ID:           uuid.NewString(),
			WorkflowID:   current.ID,
			EventType:    event.Type,
			EventPayload: eventPayload(event),
			FromState:    current.State,
			ToState:      nextState,
			TriggeredBy:  triggeredBy,
			CreatedAt:    now,
		}

		return &next, evt, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetByID is a non-locking read.
func (o *Orchestrator) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	return o.store.GetWorkflow(ctx, id)
}

// GetHistory returns the workflow's events ordered by createdAt ascending.
func (o *Orchestrator) GetHistory(ctx context.Context, id string) ([]domain.WorkflowEvent, error) {
	return o.store.ListWorkflowEvents(ctx, id)
}

func eventPayload(event statemachine.Event) map[string]any {
	payload := map[string]any{}
	if event.Reason != "" {
		payload["reason"] = event.Reason
	}
	if len(event.Approvers) > 0 {
		payload["approvers"] = event.Approvers
	}
	if event.ApprovedBy != "" {
		payload["approvedBy"] = event.ApprovedBy
	}
	if event.RejectedBy != "" {
		payload["rejectedBy"] = event.RejectedBy
	}
	if event.Signature != "" {
		payload["signature"] = event.Signature
	}
	if event.TxHash != "" {
		payload["txHash"] = event.TxHash
	}
	if event.BlockNumber != nil {
		payload["blockNumber"] = *event.BlockNumber
	}
	return payload
}
