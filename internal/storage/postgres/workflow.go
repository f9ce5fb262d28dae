package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/reconcore/core/internal/domain"
)

// CreateWorkflow inserts a new workflow row at version 1.
func (s *Store) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	ctxJSON, err := json.Marshal(wf.Context)
	if err != nil {
		return fmt.Errorf("marshal workflow context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows
			(id, vault_id, chain_alias, marshalled_hex, organisation_id,
			 created_by_id, created_by_type, skip_review, state, context,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		wf.ID, wf.VaultID, string(wf.ChainAlias), wf.MarshalledHex, wf.OrganisationID,
		wf.CreatedBy.ID, string(wf.CreatedBy.Type), wf.SkipReview, string(wf.State), ctxJSON,
		wf.Version, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		slog.ErrorContext(ctx, "failed to insert workflow", "workflow_id", wf.ID, "error", err)
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow is a non-locking read.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, vault_id, chain_alias, marshalled_hex, organisation_id,
		       created_by_id, created_by_type, skip_review, state, context,
		       version, created_at, updated_at
		FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

// ListWorkflowEvents returns a workflow's events ordered oldest first.
func (s *Store) ListWorkflowEvents(ctx context.Context, workflowID string) ([]domain.WorkflowEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, event_type, event_payload, from_state, to_state,
		       triggered_by_id, triggered_by_type, created_at
		FROM workflow_events
		WHERE workflow_id = $1
		ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow events: %w", err)
	}
	defer rows.Close()

	var events []domain.WorkflowEvent
	for rows.Next() {
		var (
			evt           domain.WorkflowEvent
			payload       []byte
			triggeredByID string
			triggeredType string
		)
		if err := rows.Scan(&evt.ID, &evt.WorkflowID, &evt.EventType, &payload,
			&evt.FromState, &evt.ToState, &triggeredByID, &triggeredType, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		evt.TriggeredBy = domain.Principal{ID: triggeredByID, Type: domain.PrincipalType(triggeredType)}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &evt.EventPayload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ApplyTransition locks the workflow row for the duration of one round trip,
// hands the current state to fn, then writes the next (state, context,
// version) and the event row in the same transaction, conditioned on the
// version fn observed (spec §5 "Workflow updates").
func (s *Store) ApplyTransition(ctx context.Context, id string, fn func(current *domain.Workflow) (*domain.Workflow, *domain.WorkflowEvent, error)) (*domain.Workflow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, vault_id, chain_alias, marshalled_hex, organisation_id,
		       created_by_id, created_by_type, skip_review, state, context,
		       version, created_at, updated_at
		FROM workflows WHERE id = $1 FOR UPDATE`, id)
	current, err := scanWorkflow(row)
	if err != nil {
		return nil, err
	}

	next, evt, err := fn(current)
	if err != nil {
		return nil, err
	}

	ctxJSON, err := json.Marshal(next.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow context: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE workflows
		SET state = $1, context = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		string(next.State), ctxJSON, next.Version, next.UpdatedAt, id, current.Version)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrConcurrentModification
	}

	payloadJSON, err := json.Marshal(evt.EventPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_events
			(id, workflow_id, event_type, event_payload, from_state, to_state,
			 triggered_by_id, triggered_by_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.ID, evt.WorkflowID, string(evt.EventType), payloadJSON,
		string(evt.FromState), string(evt.ToState), evt.TriggeredBy.ID, string(evt.TriggeredBy.Type), evt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert workflow event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var (
		wf              domain.Workflow
		chainAlias      string
		createdByID     string
		createdByType   string
		state           string
		ctxJSON         []byte
	)
	err := row.Scan(&wf.ID, &wf.VaultID, &chainAlias, &wf.MarshalledHex, &wf.OrganisationID,
		&createdByID, &createdByType, &wf.SkipReview, &state, &ctxJSON,
		&wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	wf.ChainAlias = domain.ChainAlias(chainAlias)
	wf.CreatedBy = domain.Principal{ID: createdByID, Type: domain.PrincipalType(createdByType)}
	wf.State = domain.WorkflowState(state)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &wf.Context); err != nil {
			return nil, fmt.Errorf("unmarshal workflow context: %w", err)
		}
	}
	return &wf, nil
}
