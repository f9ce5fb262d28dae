package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/worker"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

const jobColumns = `
	id, address, chain_alias, provider, mode, status,
	from_block, to_block, from_timestamp, to_timestamp,
	last_processed_cursor, processed_count, transactions_added,
	transactions_soft_deleted, discrepancies_flagged, errors_count,
	final_block, async_job_id, async_next_page_url, async_job_started_at,
	started_at, completed_at, created_at, updated_at`

// CreateJob inserts a pending job; a conflict against the partial unique
// index on (address, chain_alias) WHERE status IN (pending, running)
// surfaces as domain.ErrUniquenessViolation (spec §3, last line of defense
// behind the HTTP handler's FindActiveJob check).
func (s *Store) CreateJob(ctx context.Context, job *domain.ReconciliationJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		job.ID, job.Address, string(job.Chain), job.Provider, string(job.Mode), string(job.Status),
		job.FromBlock, job.ToBlock, job.FromTimestamp, job.ToTimestamp,
		job.LastProcessedCursor, job.ProcessedCount, job.TransactionsAdded,
		job.TransactionsSoftDeleted, job.DiscrepanciesFlagged, job.ErrorsCount,
		job.FinalBlock, job.AsyncJobID, job.AsyncNextPageURL, job.AsyncJobStartedAt,
		job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUniquenessViolation
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// DeleteJob removes a job row; the Reconciliation Service only calls this
// for pending jobs.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reconciliation_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetJob is a non-locking read.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.ReconciliationJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM reconciliation_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// FindActiveJob returns the pending or running job for (address, chain), nil if none.
func (s *Store) FindActiveJob(ctx context.Context, address string, chain domain.ChainAlias) (*domain.ReconciliationJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM reconciliation_jobs
		WHERE address = $1 AND chain_alias = $2 AND status IN ('pending', 'running')`,
		address, string(chain))
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// ListJobs returns a paginated summary listing for (address, chain), newest first.
func (s *Store) ListJobs(ctx context.Context, address string, chain domain.ChainAlias, params domain.ListJobsParams) (domain.ListJobsResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM reconciliation_jobs WHERE address = $1 AND chain_alias = $2`,
		address, string(chain)).Scan(&total); err != nil {
		return domain.ListJobsResult{}, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, status, address, chain_alias, created_at
		FROM reconciliation_jobs
		WHERE address = $1 AND chain_alias = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, address, string(chain), limit, params.Offset)
	if err != nil {
		return domain.ListJobsResult{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var data []domain.JobSummary
	for rows.Next() {
		var (
			js         domain.JobSummary
			status     string
			chainAlias string
		)
		if err := rows.Scan(&js.JobID, &status, &js.Address, &chainAlias, &js.CreatedAt); err != nil {
			return domain.ListJobsResult{}, fmt.Errorf("scan job summary: %w", err)
		}
		js.Status = domain.JobStatus(status)
		js.Chain = domain.ChainAlias(chainAlias)
		data = append(data, js)
	}
	if err := rows.Err(); err != nil {
		return domain.ListJobsResult{}, err
	}
	return domain.ListJobsResult{Data: data, Total: total}, nil
}

// ClaimNextPendingJob atomically claims the oldest pending job: SELECT ...
// FOR UPDATE SKIP LOCKED ordered by createdAt, then stamps it running and
// startedAt in the same transaction, so N workers never claim the same row
// (spec §5 "Job claiming").
func (s *Store) ClaimNextPendingJob(ctx context.Context) (*domain.ReconciliationJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM reconciliation_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1`, job.ID)
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	job.Status = domain.JobStatusRunning
	return job, nil
}

// SweepStaleJobs reclaims jobs stuck in running for longer than olderThan,
// the crash-recovery mechanism of spec §4.3.1/§7: a worker that died
// mid-job leaves its row running forever otherwise. Stale jobs go back to
// pending, not a terminal status, so the next poll pass resumes them; their
// async state is cleared since any in-flight async job page is now orphaned.
// Staleness is measured from updated_at (the checkpoint clock), not
// started_at, so an actively-checkpointing long job is never wrongly swept.
func (s *Store) SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET status = 'pending', async_job_id = '', async_next_page_url = '',
		    async_job_started_at = NULL, updated_at = now()
		WHERE status = 'running' AND updated_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SetFinalBlock(ctx context.Context, jobID string, finalBlock int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs SET final_block = $1, updated_at = now() WHERE id = $2`,
		finalBlock, jobID)
	if err != nil {
		return fmt.Errorf("set final block: %w", err)
	}
	return nil
}

// Checkpoint persists a mid-flight progress snapshot without changing status
// (spec §4.3.6, every CheckpointInterval transactions and on error exit).
func (s *Store) Checkpoint(ctx context.Context, jobID string, progress worker.JobProgress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET processed_count = $1, transactions_added = $2, transactions_soft_deleted = $3,
		    discrepancies_flagged = $4, errors_count = $5, last_processed_cursor = $6,
		    updated_at = now()
		WHERE id = $7`,
		progress.ProcessedCount, progress.TransactionsAdded, progress.TransactionsSoftDeleted,
		progress.DiscrepanciesFlagged, progress.ErrorsCount, progress.LastProcessedCursor, jobID)
	if err != nil {
		return fmt.Errorf("checkpoint job: %w", err)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, progress worker.JobProgress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET status = 'completed', completed_at = now(), updated_at = now(),
		    processed_count = $1, transactions_added = $2, transactions_soft_deleted = $3,
		    discrepancies_flagged = $4, errors_count = $5, last_processed_cursor = $6
		WHERE id = $7`,
		progress.ProcessedCount, progress.TransactionsAdded, progress.TransactionsSoftDeleted,
		progress.DiscrepanciesFlagged, progress.ErrorsCount, progress.LastProcessedCursor, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, jobID string, errMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET status = 'failed', completed_at = now(), updated_at = now()
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (s *Store) SetAsyncJobStarted(ctx context.Context, jobID, asyncJobID, nextPageURL string, finalBlock *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET async_job_id = $1, async_next_page_url = $2, async_job_started_at = now(),
		    final_block = COALESCE($3, final_block), updated_at = now()
		WHERE id = $4`, asyncJobID, nextPageURL, finalBlock, jobID)
	if err != nil {
		return fmt.Errorf("set async job started: %w", err)
	}
	return nil
}

func (s *Store) SetAsyncNextPage(ctx context.Context, jobID string, nextPageURL string, progress worker.JobProgress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET async_next_page_url = $1, processed_count = $2, transactions_added = $3,
		    transactions_soft_deleted = $4, discrepancies_flagged = $5, errors_count = $6,
		    updated_at = now()
		WHERE id = $7`,
		nextPageURL, progress.ProcessedCount, progress.TransactionsAdded,
		progress.TransactionsSoftDeleted, progress.DiscrepanciesFlagged, progress.ErrorsCount, jobID)
	if err != nil {
		return fmt.Errorf("set async next page: %w", err)
	}
	return nil
}

func (s *Store) ClearAsyncState(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_jobs
		SET async_job_id = '', async_next_page_url = '', async_job_started_at = NULL, updated_at = now()
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("clear async state: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.ReconciliationJob, error) {
	var (
		job        domain.ReconciliationJob
		chainAlias string
		mode       string
		status     string
	)
	err := row.Scan(
		&job.ID, &job.Address, &chainAlias, &job.Provider, &mode, &status,
		&job.FromBlock, &job.ToBlock, &job.FromTimestamp, &job.ToTimestamp,
		&job.LastProcessedCursor, &job.ProcessedCount, &job.TransactionsAdded,
		&job.TransactionsSoftDeleted, &job.DiscrepanciesFlagged, &job.ErrorsCount,
		&job.FinalBlock, &job.AsyncJobID, &job.AsyncNextPageURL, &job.AsyncJobStartedAt,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Chain = domain.ChainAlias(chainAlias)
	job.Mode = domain.JobMode(mode)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
