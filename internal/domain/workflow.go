package domain

import "time"

// WorkflowState is one of the finite states of the transaction workflow
// state machine (spec §4.1). created/review/... are transient; completed
// and failed are terminal — no further transitions are ever accepted once
// a workflow reaches one of them.
type WorkflowState string

const (
	WorkflowStateCreated            WorkflowState = "created"
	WorkflowStateReview             WorkflowState = "review"
	WorkflowStateEvaluatingPolicies WorkflowState = "evaluating_policies"
	WorkflowStateWaitingApproval    WorkflowState = "waiting_approval"
	WorkflowStateApproved           WorkflowState = "approved"
	WorkflowStateWaitingSignature   WorkflowState = "waiting_signature"
	WorkflowStateBroadcasting       WorkflowState = "broadcasting"
	WorkflowStateIndexing           WorkflowState = "indexing"
	WorkflowStateCompleted          WorkflowState = "completed"
	WorkflowStateFailed             WorkflowState = "failed"
)

// IsTerminal reports whether no further transitions are accepted from this state.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowStateCompleted || s == WorkflowStateFailed
}

// EventType names a workflow event as listed in the transition table (spec §4.1).
type EventType string

const (
	EventStart                    EventType = "START"
	EventConfirm                  EventType = "CONFIRM"
	EventCancel                   EventType = "CANCEL"
	EventPoliciesPassed           EventType = "POLICIES_PASSED"
	EventPoliciesRequireApproval  EventType = "POLICIES_REQUIRE_APPROVAL"
	EventPoliciesRejected         EventType = "POLICIES_REJECTED"
	EventApprove                  EventType = "APPROVE"
	EventReject                   EventType = "REJECT"
	EventRequestSignature         EventType = "REQUEST_SIGNATURE"
	EventSignatureReceived        EventType = "SIGNATURE_RECEIVED"
	EventSignatureFailed          EventType = "SIGNATURE_FAILED"
	EventBroadcastSuccess         EventType = "BROADCAST_SUCCESS"
	EventBroadcastRetry           EventType = "BROADCAST_RETRY"
	EventBroadcastFailed          EventType = "BROADCAST_FAILED"
	EventIndexingComplete         EventType = "INDEXING_COMPLETE"
	EventIndexingFailed           EventType = "INDEXING_FAILED"
)

// PrincipalType classifies who/what triggered a workflow event.
type PrincipalType string

const (
	PrincipalUser    PrincipalType = "User"
	PrincipalSystem  PrincipalType = "System"
	PrincipalWebhook PrincipalType = "Webhook"
)

// Principal identifies the actor that created a workflow or triggered an event.
type Principal struct {
	ID   string
	Type PrincipalType
}

// WorkflowContext is the structured record carried alongside a workflow's
// state, mutated by transition effects (spec §4.1 "Context effect" column).
// It round-trips through storage as JSON.
type WorkflowContext struct {
	// SkipReviewHint mirrors Workflow.SkipReview at creation time; the
	// created->START transition reads it to decide whether to route through
	// `review` or straight to `evaluating_policies` (spec §4.1).
	SkipReviewHint       bool       `json:"skipReviewHint"`
	MaxBroadcastAttempts int        `json:"maxBroadcastAttempts"`
	BroadcastAttempts    int        `json:"broadcastAttempts"`
	Error                string     `json:"error,omitempty"`
	FailedAt             string     `json:"failedAt,omitempty"`
	Approvers            []string   `json:"approvers,omitempty"`
	ApprovedBy           string     `json:"approvedBy,omitempty"`
	Signature            string     `json:"signature,omitempty"`
	TxHash               string     `json:"txHash,omitempty"`
	BlockNumber          *int64     `json:"blockNumber,omitempty"`
}

// DefaultMaxBroadcastAttempts bounds BROADCAST_RETRY before a workflow is
// forced to `failed` (spec §4.1 broadcasting/BROADCAST_RETRY row).
const DefaultMaxBroadcastAttempts = 3

// Workflow is the aggregate root driving one outgoing transaction through
// the state machine. Version is the optimistic-concurrency counter: every
// accepted event increments it by exactly one (spec §3, §8 invariant 1).
type Workflow struct {
	ID              string
	VaultID         string
	ChainAlias      ChainAlias
	MarshalledHex   string
	OrganisationID  string
	CreatedBy       Principal
	SkipReview      bool
	State           WorkflowState
	Context         WorkflowContext
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowEvent is an append-only record of one accepted transition.
type WorkflowEvent struct {
	ID           string
	WorkflowID   string
	EventType    EventType
	EventPayload map[string]any
	FromState    WorkflowState
	ToState      WorkflowState
	TriggeredBy  Principal
	CreatedAt    time.Time
}

// CreateWorkflowInput carries the fields accepted by Orchestrator.Create.
type CreateWorkflowInput struct {
	VaultID        string
	ChainAlias     ChainAlias
	MarshalledHex  string
	OrganisationID string
	CreatedBy      Principal
	SkipReview     bool
}
