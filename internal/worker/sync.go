package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

// processSyncJob implements the sync streaming flow (spec §4.3.4).
func (w *Worker) processSyncJob(ctx context.Context, job *domain.ReconciliationJob, gw provider.Gateway) error {
	finalBlock := job.FinalBlock
	if finalBlock == nil {
		// Capturing finalBlock before reading transactions is the
		// reconciliation checkpoint; failure here is non-fatal (spec §4.3.4 step 1).
		if height, ok, err := gw.GetCurrentBlockNumber(ctx, job.Chain); err != nil {
			slog.WarnContext(ctx, "reconciliation worker: failed to capture current block height", "job_id", job.ID, "error", err)
		} else if ok {
			if err := w.store.SetFinalBlock(ctx, job.ID, height); err != nil {
				slog.WarnContext(ctx, "reconciliation worker: failed to persist final block", "job_id", job.ID, "error", err)
			} else {
				finalBlock = &height
			}
		}
	}

	local, err := w.store.LocalTransactions(ctx, job.Chain, job.Address, job.FromBlock)
	if err != nil {
		return fmt.Errorf("load local transactions: %w", err)
	}

	progress := JobProgress{LastProcessedCursor: job.LastProcessedCursor}
	cursor := job.LastProcessedCursor
	matched := make(map[string]struct{}, len(local))

	for {
		if err := w.rateLimit(ctx, job.Chain); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		page, err := gw.FetchTransactions(ctx, job.Address, job.Chain, provider.FetchOptions{
			Cursor:        cursor,
			FromTimestamp: job.FromTimestamp,
			ToTimestamp:   job.ToTimestamp,
			FromBlock:     job.FromBlock,
			ToBlock:       job.ToBlock,
		})
		if err != nil {
			_ = w.store.Checkpoint(ctx, job.ID, progress)
			return fmt.Errorf("fetch transactions: %w", err)
		}

		for _, p := range page.Transactions {
			if err := w.reconcileOne(ctx, job, local, matched, p, &progress); err != nil {
				progress.ErrorsCount++
			}
			progress.ProcessedCount++
			progress.LastProcessedCursor = p.Cursor

			if progress.ProcessedCount%CheckpointInterval == 0 {
				if err := w.store.Checkpoint(ctx, job.ID, progress); err != nil {
					return fmt.Errorf("checkpoint: %w", err)
				}
			}
		}

		if page.Done {
			break
		}
		cursor = page.NextCursor
	}

	if err := w.store.Checkpoint(ctx, job.ID, progress); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}

	// Every remaining local entry never appeared in the provider stream: orphaned.
	for hash, tx := range local {
		if _, ok := matched[hash]; ok {
			continue
		}
		if err := w.store.AppendAuditEntry(ctx, domain.AuditEntry{
			JobID: job.ID, TransactionHash: hash, Action: domain.AuditActionSoftDeleted,
			BeforeSnapshot: snapshotOf(tx),
		}); err != nil {
			return fmt.Errorf("append soft-deleted audit entry: %w", err)
		}
		progress.TransactionsSoftDeleted++
	}

	if err := w.store.CompleteJob(ctx, job.ID, progress); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if finalBlock != nil {
		if err := w.store.UpdateAddressCheckpoint(ctx, job.Address, job.Chain, *finalBlock); err != nil {
			slog.WarnContext(ctx, "reconciliation worker: failed to update address checkpoint", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// reconcileOne compares one provider transaction against the local set
// (spec §4.3.4 step 4), appending an audit entry and mutating progress.
func (w *Worker) reconcileOne(ctx context.Context, job *domain.ReconciliationJob, local map[string]domain.Transaction, matched map[string]struct{}, p provider.Transaction, progress *JobProgress) error {
	hash := domain.NormalizeHash(job.Chain, p.TransactionHash)

	existing, ok := local[hash]
	if !ok {
		if _, err := w.processor.Process(ctx, job.Chain, p); err != nil {
			return err
		}
		if err := w.store.AppendAuditEntry(ctx, domain.AuditEntry{
			JobID: job.ID, TransactionHash: hash, Action: domain.AuditActionAdded,
			AfterSnapshot: p.RawData,
		}); err != nil {
			return err
		}
		matched[hash] = struct{}{}
		progress.TransactionsAdded++
		return nil
	}

	matched[hash] = struct{}{}
	if fields := diffFields(existing, p.Normalized, job.Chain); len(fields) > 0 {
		if err := w.store.AppendAuditEntry(ctx, domain.AuditEntry{
			JobID: job.ID, TransactionHash: hash, Action: domain.AuditActionDiscrepancy,
			BeforeSnapshot:    snapshotOf(existing),
			AfterSnapshot:     p.RawData,
			DiscrepancyFields: fields,
		}); err != nil {
			return err
		}
		progress.DiscrepanciesFlagged++
	}
	return nil
}

// diffFields compares the fields named in domain.DiscrepancyFields,
// excluding value/status (spec §9). Provider addresses pass through
// NormalizeAddress first (lowercased on EVM chains, raw on others); block
// numbers compare as integers and fees as strings.
func diffFields(local domain.Transaction, p provider.Normalized, chain domain.ChainAlias) []string {
	var mismatches []string
	if local.FromAddress != domain.NormalizeAddress(chain, p.FromAddress) {
		mismatches = append(mismatches, "fromAddress")
	}
	if local.ToAddress != domain.NormalizeAddress(chain, p.ToAddress) {
		mismatches = append(mismatches, "toAddress")
	}
	if local.BlockNumber != p.BlockNumber {
		mismatches = append(mismatches, "blockNumber")
	}
	if local.Fee != p.Fee {
		mismatches = append(mismatches, "fee")
	}
	return mismatches
}

func snapshotOf(tx domain.Transaction) map[string]any {
	return map[string]any{
		"fromAddress": tx.FromAddress,
		"toAddress":   tx.ToAddress,
		"blockNumber": tx.BlockNumber,
		"fee":         tx.Fee,
		"value":       tx.Value,
		"status":      tx.Status,
	}
}
