package integration

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/domain"
)

func newPendingJob(address string, chain domain.ChainAlias) *domain.ReconciliationJob {
	now := time.Now().UTC()
	return &domain.ReconciliationJob{
		ID:        uuid.NewString(),
		Address:   address,
		Chain:     chain,
		Provider:  "blockbook",
		Mode:      domain.JobModeFull,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateJob_RejectsSecondActiveJobForSameAddressAndChain(t *testing.T) {
	store, ctx := setupTestStore(t)

	first := newPendingJob("0xabc", "eth")
	require.NoError(t, store.CreateJob(ctx, first))

	second := newPendingJob("0xabc", "eth")
	err := store.CreateJob(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUniquenessViolation))
}

func TestCreateJob_AllowsSameAddressOnDifferentChain(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateJob(ctx, newPendingJob("0xabc", "eth")))
	require.NoError(t, store.CreateJob(ctx, newPendingJob("0xabc", "polygon")))
}

func TestCreateJob_AllowsNewJobOnceThePriorOneIsTerminal(t *testing.T) {
	store, ctx := setupTestStore(t)

	first := newPendingJob("0xabc", "eth")
	require.NoError(t, store.CreateJob(ctx, first))
	require.NoError(t, store.FailJob(ctx, first.ID, "test teardown"))

	second := newPendingJob("0xabc", "eth")
	require.NoError(t, store.CreateJob(ctx, second))
}

// TestClaimNextPendingJob_NeverDoubleClaimsAcrossConcurrentWorkers drives N
// concurrent claimers against M pending jobs and asserts every job is
// claimed exactly once, pinning down the FOR UPDATE SKIP LOCKED contract.
func TestClaimNextPendingJob_NeverDoubleClaimsAcrossConcurrentWorkers(t *testing.T) {
	store, ctx := setupTestStore(t)

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		require.NoError(t, store.CreateJob(ctx, newPendingJob(uuid.NewString(), "eth")))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)

	const workerCount = 8
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNextPendingJob(ctx)
				require.NoError(t, err)
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id, count := range claimed {
		assert.Equalf(t, 1, count, "job %s claimed %d times", id, count)
	}
}

func TestSweepStaleJobs_ReturnsJobsRunningPastTheThresholdToPending(t *testing.T) {
	store, ctx := setupTestStore(t)

	stale := newPendingJob("0xstale", "eth")
	require.NoError(t, store.CreateJob(ctx, stale))
	claimed, err := store.ClaimNextPendingJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.SetAsyncJobStarted(ctx, stale.ID, "async-job-1", "https://example.test/next", nil))

	fresh := newPendingJob("0xfresh", "eth")
	require.NoError(t, store.CreateJob(ctx, fresh))

	n, err := store.SweepStaleJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, reloaded.Status)
	assert.Empty(t, reloaded.AsyncJobID)
	assert.Empty(t, reloaded.AsyncNextPageURL)
	assert.Nil(t, reloaded.AsyncJobStartedAt)

	freshReloaded, err := store.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, freshReloaded.Status)
}

func TestTryAcquireExclusiveRun_OnlyOneHolderAtATime(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, acquired1, err := store.TryAcquireExclusiveRun(ctx, "test-sweep", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired1)

	_, acquired2, err := store.TryAcquireExclusiveRun(ctx, "test-sweep", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired2)
}

func TestTryAcquireExclusiveRun_ReleaseLetsAnotherHolderAcquire(t *testing.T) {
	store, ctx := setupTestStore(t)

	release, acquired, err := store.TryAcquireExclusiveRun(ctx, "test-sweep", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	release()

	_, acquired2, err := store.TryAcquireExclusiveRun(ctx, "test-sweep", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired2)
}
