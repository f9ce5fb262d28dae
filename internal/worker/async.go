package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

// processAsyncJob implements one polling-pass step of the async-job flow
// (spec §4.3.5). It is reentrant: each call does at most one provider
// interaction, driven entirely by the persisted job row.
func (w *Worker) processAsyncJob(ctx context.Context, job *domain.ReconciliationJob, gw provider.Gateway) error {
	switch {
	case job.AsyncJobID == "":
		return w.startAsyncJob(ctx, job, gw)
	case w.clock.Now().Sub(derefTime(job.AsyncJobStartedAt)) > time.Duration(w.cfg.AsyncTimeoutHours)*time.Hour:
		return w.timeoutAsyncJob(ctx, job)
	case job.AsyncNextPageURL == "":
		return w.corruptAsyncState(ctx, job)
	default:
		return w.pollAsyncJob(ctx, job, gw)
	}
}

func (w *Worker) startAsyncJob(ctx context.Context, job *domain.ReconciliationJob, gw provider.Gateway) error {
	var finalBlock *int64
	if height, ok, err := gw.GetCurrentBlockNumber(ctx, job.Chain); err != nil {
		slog.WarnContext(ctx, "reconciliation worker: failed to capture current block height", "job_id", job.ID, "error", err)
	} else if ok {
		finalBlock = &height
	}

	if err := w.rateLimit(ctx, job.Chain); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	handle, err := gw.StartAsyncJob(ctx, job.Chain, job.Address, provider.StartAsyncJobParams{StartBlock: job.FromBlock, EndBlock: finalBlock})
	if err != nil {
		return fmt.Errorf("start async job: %w", err)
	}

	if err := w.store.SetAsyncJobStarted(ctx, job.ID, handle.JobID, handle.NextPageURL, finalBlock); err != nil {
		return fmt.Errorf("persist async job start: %w", err)
	}
	return nil
}

func (w *Worker) timeoutAsyncJob(ctx context.Context, job *domain.ReconciliationJob) error {
	if err := w.store.FailJob(ctx, job.ID, "async job timed out"); err != nil {
		return fmt.Errorf("fail timed-out job: %w", err)
	}
	if err := w.store.ClearAsyncState(ctx, job.ID); err != nil {
		return fmt.Errorf("clear async state: %w", err)
	}
	return w.store.AppendAuditEntry(ctx, domain.AuditEntry{
		JobID: job.ID, TransactionHash: "N/A", Action: domain.AuditActionError,
		ErrorMessage: "async job timed out",
	})
}

func (w *Worker) corruptAsyncState(ctx context.Context, job *domain.ReconciliationJob) error {
	if err := w.store.FailJob(ctx, job.ID, "async job missing next page url"); err != nil {
		return fmt.Errorf("fail corrupt job: %w", err)
	}
	if err := w.store.ClearAsyncState(ctx, job.ID); err != nil {
		return fmt.Errorf("clear async state: %w", err)
	}
	return w.store.AppendAuditEntry(ctx, domain.AuditEntry{
		JobID: job.ID, TransactionHash: "N/A", Action: domain.AuditActionError,
		ErrorMessage: "async job missing next page url",
	})
}

func (w *Worker) pollAsyncJob(ctx context.Context, job *domain.ReconciliationJob, gw provider.Gateway) error {
	if err := w.rateLimit(ctx, job.Chain); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	result, err := gw.FetchAsyncJobResults(ctx, job.AsyncNextPageURL)
	if err != nil {
		return fmt.Errorf("fetch async job results: %w", err)
	}
	if !result.IsReady {
		return nil // next pass retries; job remains running
	}

	isSingleBatch := job.ProcessedCount == 0

	local, err := w.store.LocalTransactions(ctx, job.Chain, job.Address, job.FromBlock)
	if err != nil {
		return fmt.Errorf("load local transactions: %w", err)
	}

	progress := JobProgress{
		ProcessedCount:          job.ProcessedCount,
		TransactionsAdded:       job.TransactionsAdded,
		TransactionsSoftDeleted: job.TransactionsSoftDeleted,
		DiscrepanciesFlagged:    job.DiscrepanciesFlagged,
		ErrorsCount:             job.ErrorsCount,
		LastProcessedCursor:     job.LastProcessedCursor,
	}
	matched := make(map[string]struct{})

	for _, p := range result.Transactions {
		hash := domain.NormalizeHash(job.Chain, p.TransactionHash)
		if err := w.addAsyncTransaction(ctx, job, local, p, &progress); err != nil {
			progress.ErrorsCount++
		}
		matched[hash] = struct{}{}
		progress.ProcessedCount++
		if progress.ProcessedCount%CheckpointInterval == 0 {
			if err := w.store.Checkpoint(ctx, job.ID, progress); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
		}
	}

	if !result.IsComplete {
		if err := w.store.SetAsyncNextPage(ctx, job.ID, result.NextPageURL, progress); err != nil {
			return fmt.Errorf("persist async page progress: %w", err)
		}
		return nil
	}

	// isSingleBatch guards orphan detection: a multi-batch matched set only
	// covers the final page and would misclassify earlier pages (spec §9).
	if isSingleBatch {
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
	}

	if err := w.store.CompleteJob(ctx, job.ID, progress); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if job.FinalBlock != nil {
		if err := w.store.UpdateAddressCheckpoint(ctx, job.Address, job.Chain, *job.FinalBlock); err != nil {
			slog.WarnContext(ctx, "reconciliation worker: failed to update address checkpoint", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) addAsyncTransaction(ctx context.Context, job *domain.ReconciliationJob, local map[string]domain.Transaction, p provider.Transaction, progress *JobProgress) error {
	hash := domain.NormalizeHash(job.Chain, p.TransactionHash)
	if _, exists := local[hash]; exists {
		return nil
	}
	if _, err := w.processor.Process(ctx, job.Chain, p); err != nil {
		return err
	}
	if err := w.store.AppendAuditEntry(ctx, domain.AuditEntry{
		JobID: job.ID, TransactionHash: hash, Action: domain.AuditActionAdded,
		AfterSnapshot: p.RawData,
	}); err != nil {
		return err
	}
	progress.TransactionsAdded++
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
