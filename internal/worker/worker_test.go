package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
	"github.com/reconcore/core/internal/provider/memory"
	"github.com/reconcore/core/internal/txprocessor"
)

// fakeStore is an in-memory worker.Store sufficient to drive both flows
// without a database.
type fakeStore struct {
	mu      sync.Mutex
	job     *domain.ReconciliationJob
	local   map[string]domain.Transaction
	audit   []domain.AuditEntry
	address *domain.Address
}

func (f *fakeStore) SweepStaleJobs(context.Context, time.Duration) (int, error) { return 0, nil }

func (f *fakeStore) ClaimNextPendingJob(context.Context) (*domain.ReconciliationJob, error) {
	return nil, nil
}

func (f *fakeStore) LocalTransactions(_ context.Context, _ domain.ChainAlias, _ string, fromBlock *int64) (map[string]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Transaction, len(f.local))
	for h, tx := range f.local {
		if fromBlock != nil && tx.BlockNumber < *fromBlock {
			continue
		}
		out[h] = tx
	}
	return out, nil
}

func (f *fakeStore) SetFinalBlock(_ context.Context, _ string, finalBlock int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.FinalBlock = &finalBlock
	return nil
}

func (f *fakeStore) Checkpoint(_ context.Context, _ string, progress JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	applyProgress(f.job, progress)
	return nil
}

func (f *fakeStore) AppendAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeStore) CompleteJob(_ context.Context, _ string, progress JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	applyProgress(f.job, progress)
	f.job.Status = domain.JobStatusCompleted
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, _ string, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Status = domain.JobStatusFailed
	return nil
}

func (f *fakeStore) SetAsyncJobStarted(_ context.Context, _, asyncJobID, nextPageURL string, finalBlock *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.AsyncJobID = asyncJobID
	f.job.AsyncNextPageURL = nextPageURL
	now := time.Now().UTC()
	f.job.AsyncJobStartedAt = &now
	f.job.FinalBlock = finalBlock
	return nil
}

func (f *fakeStore) SetAsyncNextPage(_ context.Context, _ string, nextPageURL string, progress JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.AsyncNextPageURL = nextPageURL
	applyProgress(f.job, progress)
	return nil
}

func (f *fakeStore) ClearAsyncState(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.AsyncJobID = ""
	f.job.AsyncNextPageURL = ""
	f.job.AsyncJobStartedAt = nil
	return nil
}

func (f *fakeStore) UpdateAddressCheckpoint(_ context.Context, _ string, _ domain.ChainAlias, finalBlock int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.address.LastReconciledBlock == nil || *f.address.LastReconciledBlock < finalBlock {
		f.address.LastReconciledBlock = &finalBlock
	}
	return nil
}

func applyProgress(job *domain.ReconciliationJob, p JobProgress) {
	job.ProcessedCount = p.ProcessedCount
	job.TransactionsAdded = p.TransactionsAdded
	job.TransactionsSoftDeleted = p.TransactionsSoftDeleted
	job.DiscrepanciesFlagged = p.DiscrepanciesFlagged
	job.ErrorsCount = p.ErrorsCount
	job.LastProcessedCursor = p.LastProcessedCursor
}

type noopTxStore struct{}

func (noopTxStore) UpsertTransaction(context.Context, domain.Transaction) error { return nil }
func (noopTxStore) UpsertToken(context.Context, domain.TokenMetadata) error     { return nil }

// TestSyncFlow_MixedSet exercises spec §8 scenario 4: added/discrepancy/soft_deleted.
func TestSyncFlow_MixedSet(t *testing.T) {
	store := &fakeStore{
		job: &domain.ReconciliationJob{ID: "j1", Address: "addr", Chain: "eth", Status: domain.JobStatusRunning},
		local: map[string]domain.Transaction{
			"0xh1": {TxHash: "0xh1", FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 1, Fee: "1"},
			"0xh2": {TxHash: "0xh2", FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 2, Fee: "1"},
			"0xh3": {TxHash: "0xh3", FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 3, Fee: "1"},
		},
		address: &domain.Address{Address: "addr", Chain: "eth"},
	}

	gw := memory.New("memory")
	gw.Transactions = []provider.Transaction{
		{TransactionHash: "0xh1", Cursor: "c1", Normalized: provider.Normalized{FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 1, Fee: "1"}},
		{TransactionHash: "0xh2", Cursor: "c2", Normalized: provider.Normalized{FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 2, Fee: "2"}}, // fee differs
		{TransactionHash: "0xh4", Cursor: "c3", Normalized: provider.Normalized{FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 4, Fee: "1"}},
	}

	registry := provider.StaticRegistry{Default: gw}
	w := New(store, registry, txprocessor.New(noopTxStore{}, nil), clock.Real{}, Config{AsyncJobsEnabled: false})

	require.NoError(t, w.processSyncJob(context.Background(), store.job, gw))

	assert.Equal(t, domain.JobStatusCompleted, store.job.Status)
	assert.EqualValues(t, 3, store.job.ProcessedCount)
	assert.EqualValues(t, 1, store.job.TransactionsAdded)
	assert.EqualValues(t, 1, store.job.DiscrepanciesFlagged)
	assert.EqualValues(t, 1, store.job.TransactionsSoftDeleted)

	var actions []domain.AuditAction
	for _, e := range store.audit {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []domain.AuditAction{domain.AuditActionAdded, domain.AuditActionDiscrepancy, domain.AuditActionSoftDeleted}, actions)
}

// TestAsyncFlow_SingleBatchCompletesAndDetectsOrphans drives the async flow
// across two polling passes: start, then a single complete batch.
func TestAsyncFlow_SingleBatchCompletesAndDetectsOrphans(t *testing.T) {
	store := &fakeStore{
		job: &domain.ReconciliationJob{ID: "j1", Address: "addr", Chain: "eth", Status: domain.JobStatusRunning},
		local: map[string]domain.Transaction{
			"0xstale": {TxHash: "0xstale", FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 1, Fee: "1"},
		},
		address: &domain.Address{Address: "addr", Chain: "eth"},
	}

	gw := memory.New("memory")
	gw.Async["eth"] = true
	gw.Batches = []provider.AsyncJobResult{
		{
			IsReady:    true,
			IsComplete: true,
			Transactions: []provider.Transaction{
				{TransactionHash: "0xnew", Normalized: provider.Normalized{FromAddress: "0xfrom", ToAddress: "0xto", BlockNumber: 2, Fee: "1"}},
			},
		},
	}

	registry := provider.StaticRegistry{Default: gw}
	w := New(store, registry, txprocessor.New(noopTxStore{}, nil), clock.Real{}, Config{AsyncJobsEnabled: true})
	ctx := context.Background()

	require.NoError(t, w.processAsyncJob(ctx, store.job, gw))
	require.NotEmpty(t, store.job.AsyncJobID)
	require.Equal(t, domain.JobStatusRunning, store.job.Status)

	require.NoError(t, w.processAsyncJob(ctx, store.job, gw))
	assert.Equal(t, domain.JobStatusCompleted, store.job.Status)
	assert.EqualValues(t, 1, store.job.TransactionsAdded)
	assert.EqualValues(t, 1, store.job.TransactionsSoftDeleted)
}
