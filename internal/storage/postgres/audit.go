package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/domain"
)

// AppendAuditEntry inserts one append-only audit row (spec §3).
func (s *Store) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	before, err := json.Marshal(entry.BeforeSnapshot)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := json.Marshal(entry.AfterSnapshot)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconciliation_audit_entries
			(id, job_id, transaction_hash, action, before_snapshot, after_snapshot,
			 discrepancy_fields, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.JobID, entry.TransactionHash, string(entry.Action),
		before, after, entry.DiscrepancyFields, entry.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns a job's audit log ordered oldest first.
func (s *Store) ListAuditEntries(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, transaction_hash, action, before_snapshot, after_snapshot,
		       discrepancy_fields, error_message, created_at
		FROM reconciliation_audit_entries
		WHERE job_id = $1
		ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			action  string
			before  []byte
			after   []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.TransactionHash, &action, &before, &after,
			&e.DiscrepancyFields, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		if len(before) > 0 {
			if err := json.Unmarshal(before, &e.BeforeSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal before snapshot: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &e.AfterSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal after snapshot: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
