package domain

import "time"

// JobStatus is the lifecycle state of a ReconciliationJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Active reports whether a job still occupies the one-active-job-per-(address,chain) slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobMode selects a full historical scan or an incremental resume from a checkpoint.
type JobMode string

const (
	JobModeFull    JobMode = "full"
	JobModePartial JobMode = "partial"
)

// ReconciliationJob tracks one reconciliation run against a provider for an
// (address, chainAlias) pair (spec §3, §4.3).
type ReconciliationJob struct {
	ID       string
	Address  string
	Chain    ChainAlias
	Provider string
	Mode     JobMode
	Status   JobStatus

	FromBlock     *int64
	ToBlock       *int64
	FromTimestamp *time.Time
	ToTimestamp   *time.Time

	LastProcessedCursor string

	ProcessedCount          int64
	TransactionsAdded       int64
	TransactionsSoftDeleted int64
	DiscrepanciesFlagged    int64
	ErrorsCount             int64

	FinalBlock *int64

	AsyncJobID       string
	AsyncNextPageURL string
	AsyncJobStartedAt *time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateJobInput carries the fields accepted by ReconciliationService.CreateJob.
type CreateJobInput struct {
	Address       string
	Chain         ChainAlias
	Mode          JobMode // zero value resolves to JobModePartial
	FromBlock     *int64
	ToBlock       *int64
	FromTimestamp *time.Time
	ToTimestamp   *time.Time
}

// JobSummary is the reduced projection returned by ListJobs.
type JobSummary struct {
	JobID     string
	Status    JobStatus
	Address   string
	Chain     ChainAlias
	CreatedAt time.Time
}

// ListJobsParams paginates ListJobs.
type ListJobsParams struct {
	Limit  int
	Offset int
}

// ListJobsResult is the paginated result of ListJobs.
type ListJobsResult struct {
	Data  []JobSummary
	Total int64
}

// AuditAction classifies one audit-log entry written while processing a job.
type AuditAction string

const (
	AuditActionAdded       AuditAction = "added"
	AuditActionDiscrepancy AuditAction = "discrepancy"
	AuditActionSoftDeleted AuditAction = "soft_deleted"
	AuditActionError       AuditAction = "error"
)

// AuditEntry is one append-only row in a job's audit log (spec §3).
type AuditEntry struct {
	ID                string
	JobID             string
	TransactionHash   string
	Action            AuditAction
	BeforeSnapshot    map[string]any
	AfterSnapshot     map[string]any
	DiscrepancyFields []string
	ErrorMessage      string
	CreatedAt         time.Time
}

// Address tracks reconciliation progress for one (address, chainAlias) pair.
type Address struct {
	ID                  string
	Address             string
	Chain               ChainAlias
	LastReconciledBlock *int64
}
