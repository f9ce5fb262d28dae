// Package reconciliation implements the Reconciliation Service (spec §4.2):
// accepts job-creation requests, exposes the FindActiveJob/DeleteJob calls the
// HTTP handler uses to keep one active job per (address, chain), computes
// reorg-safe resume windows, and exposes retrieval.
package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

// Store is the persistence the service depends on. CreateJob must enforce
// the partial unique index described in spec §3 as the last line of defense
// and return domain.ErrUniquenessViolation on conflict.
type Store interface {
	FindActiveJob(ctx context.Context, address string, chain domain.ChainAlias) (*domain.ReconciliationJob, error)
	GetAddress(ctx context.Context, address string, chain domain.ChainAlias) (*domain.Address, error)
	CreateJob(ctx context.Context, job *domain.ReconciliationJob) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*domain.ReconciliationJob, error)
	ListAuditEntries(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
	ListJobs(ctx context.Context, address string, chain domain.ChainAlias, params domain.ListJobsParams) (domain.ListJobsResult, error)
}

// Service implements the five public reconciliation operations.
type Service struct {
	store           Store
	registry        provider.Registry
	clock           clock.Clock
	reorgThresholds map[domain.ChainAlias]int
}

// New constructs a Service. reorgThresholds overrides the built-in per-chain
// defaults (spec §6 "CHAIN_ALIAS_REORG_THRESHOLDS").
func New(store Store, registry provider.Registry, clk clock.Clock, reorgThresholds map[domain.ChainAlias]int) *Service {
	return &Service{store: store, registry: registry, clock: clk, reorgThresholds: reorgThresholds}
}

// FindActiveJob returns any job in status pending or running for the pair.
func (s *Service) FindActiveJob(ctx context.Context, address string, chain domain.ChainAlias) (*domain.ReconciliationJob, error) {
	return s.store.FindActiveJob(ctx, address, chain)
}

// DeleteJob succeeds only for pending jobs, supporting "replace a pending job".
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("delete job %s: %w", id, domain.ErrValidation)
	}
	return s.store.DeleteJob(ctx, id)
}

// CreateJob resolves the provider, computes a reorg-safe fromBlock when
// resuming, and persists a pending job with zeroed counters (spec §4.2).
func (s *Service) CreateJob(ctx context.Context, input domain.CreateJobInput) (*domain.ReconciliationJob, error) {
	mode := input.Mode
	if mode == "" {
		mode = domain.JobModePartial
	}

	_, providerName, ok := s.registry.GatewayFor(input.Chain)
	if !ok {
		return nil, fmt.Errorf("create job: %w: no provider registered for chain %q", domain.ErrValidation, input.Chain)
	}

	fromBlock := input.FromBlock
	if mode == domain.JobModePartial && fromBlock == nil {
		addr, err := s.store.GetAddress(ctx, input.Address, input.Chain)
		if err != nil && err != domain.ErrNotFound {
			return nil, fmt.Errorf("lookup address: %w", err)
		}
		if addr == nil || addr.LastReconciledBlock == nil {
			mode = domain.JobModeFull
		} else {
			safe := domain.CalculateSafeFromBlock(*addr.LastReconciledBlock, input.Chain, s.reorgThresholds)
			fromBlock = &safe
		}
	}

	now := s.clock.Now()
	job := &domain.ReconciliationJob{
		ID:            uuid.NewString(),
		Address:       input.Address,
		Chain:         input.Chain,
		Provider:      providerName,
		Mode:          mode,
		Status:        domain.JobStatusPending,
		FromBlock:     fromBlock,
		ToBlock:       input.ToBlock,
		FromTimestamp: input.FromTimestamp,
		ToTimestamp:   input.ToTimestamp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns a job and its audit log, ordered by createdAt ascending.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.ReconciliationJob, []domain.AuditEntry, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list audit entries: %w", err)
	}
	return job, entries, nil
}

// ListJobs returns a paginated summary listing for an (address, chain) pair.
func (s *Service) ListJobs(ctx context.Context, address string, chain domain.ChainAlias, params domain.ListJobsParams) (domain.ListJobsResult, error) {
	return s.store.ListJobs(ctx, address, chain, params)
}
