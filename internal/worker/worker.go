// Package worker implements the Reconciliation Worker (spec §4.3): it
// continuously claims pending jobs and drives each to a terminal state,
// respecting bounded concurrency, rate limits, reorg safety, checkpointing,
// and crash recovery via the stale-job sweeper.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
	"github.com/reconcore/core/internal/txprocessor"
)

// CheckpointInterval is the number of processed transactions between
// checkpoint writes (spec §4.3.6).
const CheckpointInterval = 100

// StaleSweepInterval and StaleThreshold implement the 5-minute/1-hour
// constants of spec §4.3.2 step 1.
const (
	StaleSweepInterval = 5 * time.Minute
	StaleThreshold     = time.Hour
)

// Config holds the tunables of spec §6's configuration table.
type Config struct {
	PollInterval      time.Duration // default 5000ms
	MaxConcurrentJobs int
	AsyncJobsEnabled  bool
	AsyncTimeoutHours int           // default 4
	TokensPerInterval float64       // provider requests per second, per chain
	ReorgThresholds   map[domain.ChainAlias]int
}

// DefaultConfig returns the defaults named in spec §4.3/§6.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		MaxConcurrentJobs: 4,
		AsyncJobsEnabled:  false,
		AsyncTimeoutHours: 4,
		TokensPerInterval: 5,
	}
}

// JobProgress is the mutable counter set checkpointed and finalized
// throughout job processing (spec §4.3.6).
type JobProgress struct {
	ProcessedCount          int64
	TransactionsAdded       int64
	TransactionsSoftDeleted int64
	DiscrepanciesFlagged    int64
	ErrorsCount             int64
	LastProcessedCursor     string
}

// Store is the persistence the worker depends on. The Postgres
// implementation backs ClaimNextPendingJob with `SELECT ... FOR UPDATE
// SKIP LOCKED` ordered by createdAt (spec §5).
type Store interface {
	SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)
	ClaimNextPendingJob(ctx context.Context) (*domain.ReconciliationJob, error)

	// LocalTransactions builds the in-memory local set for the sync flow
	// (spec §4.3.4 step 2), skipping rows with blockNumber < fromBlock.
	LocalTransactions(ctx context.Context, chain domain.ChainAlias, address string, fromBlock *int64) (map[string]domain.Transaction, error)

	SetFinalBlock(ctx context.Context, jobID string, finalBlock int64) error
	Checkpoint(ctx context.Context, jobID string, progress JobProgress) error
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error

	CompleteJob(ctx context.Context, jobID string, progress JobProgress) error
	FailJob(ctx context.Context, jobID string, errMessage string) error

	SetAsyncJobStarted(ctx context.Context, jobID, asyncJobID, nextPageURL string, finalBlock *int64) error
	SetAsyncNextPage(ctx context.Context, jobID string, nextPageURL string, progress JobProgress) error
	ClearAsyncState(ctx context.Context, jobID string) error

	UpdateAddressCheckpoint(ctx context.Context, address string, chain domain.ChainAlias, finalBlock int64) error
}

// Worker drives the polling loop described in spec §4.3.2.
type Worker struct {
	store     Store
	registry  provider.Registry
	processor *txprocessor.Processor
	clock     clock.Clock
	cfg       Config

	activeJobs int32
	stopCh     chan struct{}
	stopped    chan struct{}
	wg         sync.WaitGroup

	limiterMu sync.Mutex
	limiters  map[domain.ChainAlias]*rate.Limiter
}

func New(store Store, registry provider.Registry, processor *txprocessor.Processor, clk clock.Clock, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultConfig().MaxConcurrentJobs
	}
	if cfg.AsyncTimeoutHours <= 0 {
		cfg.AsyncTimeoutHours = DefaultConfig().AsyncTimeoutHours
	}
	if cfg.TokensPerInterval <= 0 {
		cfg.TokensPerInterval = DefaultConfig().TokensPerInterval
	}
	return &Worker{
		store:     store,
		registry:  registry,
		processor: processor,
		clock:     clk,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
		limiters:  make(map[domain.ChainAlias]*rate.Limiter),
	}
}

// Start enters the polling loop; it returns when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.stopped)

	lastSweep := time.Time{}
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-w.stopCh:
			w.wg.Wait()
			return
		default:
		}

		if w.clock.Now().Sub(lastSweep) >= StaleSweepInterval {
			w.sweepOnce(ctx)
			lastSweep = w.clock.Now()
		}

		if atomic.LoadInt32(&w.activeJobs) >= int32(w.cfg.MaxConcurrentJobs) {
			w.sleep(ctx)
			continue
		}

		job, err := w.claimOnce(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "reconciliation worker: claim failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		atomic.AddInt32(&w.activeJobs, 1)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer atomic.AddInt32(&w.activeJobs, -1)
			w.processJob(ctx, job)
		}()
	}
}

// Stop signals the loop to exit and waits up to timeout for in-flight jobs;
// past the timeout it returns leaving orphaned running jobs for the
// stale-job sweeper to recover (spec §4.3.1).
func (w *Worker) Stop(timeout time.Duration) {
	close(w.stopCh)
	select {
	case <-w.stopped:
	case <-time.After(timeout):
		slog.Warn("reconciliation worker: stop timed out, in-flight jobs left running")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}

func (w *Worker) sweepOnce(ctx context.Context) {
	n, err := w.store.SweepStaleJobs(ctx, StaleThreshold)
	if err != nil {
		slog.ErrorContext(ctx, "reconciliation worker: stale sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "reconciliation worker: swept stale jobs", "count", n)
	}
}

func (w *Worker) claimOnce(ctx context.Context) (job *domain.ReconciliationJob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("claim panic: %v", r)
		}
	}()
	return w.store.ClaimNextPendingJob(ctx)
}

// processJob dispatches to the sync or async flow and converts any
// propagated error into a best-effort job failure (spec §4.3.3, §7).
func (w *Worker) processJob(ctx context.Context, job *domain.ReconciliationJob) {
	gw, _, ok := w.registry.GatewayFor(job.Chain)
	if !ok {
		w.failJob(ctx, job, fmt.Errorf("no provider registered for chain %q", job.Chain))
		return
	}

	var err error
	if gw.SupportsAsyncJobs(job.Chain) && w.cfg.AsyncJobsEnabled {
		err = w.processAsyncJob(ctx, job, gw)
	} else {
		err = w.processSyncJob(ctx, job, gw)
	}
	if err != nil {
		w.failJob(ctx, job, err)
	}
}

func (w *Worker) failJob(ctx context.Context, job *domain.ReconciliationJob, cause error) {
	slog.ErrorContext(ctx, "reconciliation worker: job failed", "job_id", job.ID, "error", cause)
	if err := w.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "reconciliation worker: failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	entry := domain.AuditEntry{JobID: job.ID, TransactionHash: "N/A", Action: domain.AuditActionError, ErrorMessage: cause.Error()}
	if err := w.store.AppendAuditEntry(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "reconciliation worker: failed to append error audit entry", "job_id", job.ID, "error", err)
	}
}

// rateLimit enforces the per-chain minimum inter-request interval before a
// provider call (spec §5 "Per-chain rate limit").
func (w *Worker) rateLimit(ctx context.Context, chain domain.ChainAlias) error {
	w.limiterMu.Lock()
	l, ok := w.limiters[chain]
	if !ok {
		l = rate.NewLimiter(rate.Limit(w.cfg.TokensPerInterval), 1)
		w.limiters[chain] = l
	}
	w.limiterMu.Unlock()
	return l.Wait(ctx)
}
