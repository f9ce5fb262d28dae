package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/http/response"
	"github.com/reconcore/core/internal/statemachine"
)

// WorkflowOrchestrator is the application-layer contract the HTTP handler
// depends on (spec §4.1 public operations).
type WorkflowOrchestrator interface {
	Create(ctx context.Context, input domain.CreateWorkflowInput) (*domain.Workflow, error)
	Send(ctx context.Context, id string, event statemachine.Event, triggeredBy domain.Principal) (*domain.Workflow, error)
	GetByID(ctx context.Context, id string) (*domain.Workflow, error)
	GetHistory(ctx context.Context, id string) ([]domain.WorkflowEvent, error)
}

// WorkflowHandler serves the workflow HTTP surface (spec §6).
type WorkflowHandler struct {
	orchestrator WorkflowOrchestrator
}

// NewWorkflowHandler constructs a WorkflowHandler.
func NewWorkflowHandler(orchestrator WorkflowOrchestrator) *WorkflowHandler {
	return &WorkflowHandler{orchestrator: orchestrator}
}

// Routes registers the handler's routes on r.
func (h *WorkflowHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.getHistory)
	r.Post("/{id}/events", h.sendEvent)
}

type createWorkflowRequest struct {
	VaultID        string `json:"vaultId"`
	ChainAlias     string `json:"chainAlias"`
	MarshalledHex  string `json:"marshalledHex"`
	OrganisationID string `json:"organisationId"`
	CreatedBy      struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"createdBy"`
	SkipReview bool `json:"skipReview"`
}

func (h *WorkflowHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.VaultID == "" || req.ChainAlias == "" || req.MarshalledHex == "" {
		response.ValidationError(w, "vaultId/chainAlias/marshalledHex", "required")
		return
	}

	wf, err := h.orchestrator.Create(r.Context(), domain.CreateWorkflowInput{
		VaultID:        req.VaultID,
		ChainAlias:     domain.ChainAlias(req.ChainAlias),
		MarshalledHex:  req.MarshalledHex,
		OrganisationID: req.OrganisationID,
		CreatedBy: domain.Principal{
			ID:   req.CreatedBy.ID,
			Type: domain.PrincipalType(req.CreatedBy.Type),
		},
		SkipReview: req.SkipReview,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "create workflow failed", "error", err)
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, wf)
}

func (h *WorkflowHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := h.orchestrator.GetByID(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, wf)
}

func (h *WorkflowHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.orchestrator.GetHistory(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, events)
}

type sendEventRequest struct {
	Type        string   `json:"type"`
	Reason      string   `json:"reason,omitempty"`
	Approvers   []string `json:"approvers,omitempty"`
	ApprovedBy  string   `json:"approvedBy,omitempty"`
	RejectedBy  string   `json:"rejectedBy,omitempty"`
	Signature   string   `json:"signature,omitempty"`
	TxHash      string   `json:"txHash,omitempty"`
	BlockNumber *int64   `json:"blockNumber,omitempty"`
	TriggeredBy struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"triggeredBy"`
}

func (h *WorkflowHandler) sendEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Type == "" {
		response.ValidationError(w, "type", "required")
		return
	}

	event := statemachine.Event{
		Type:        domain.EventType(req.Type),
		Reason:      req.Reason,
		Approvers:   req.Approvers,
		ApprovedBy:  req.ApprovedBy,
		RejectedBy:  req.RejectedBy,
		Signature:   req.Signature,
		TxHash:      req.TxHash,
		BlockNumber: req.BlockNumber,
	}
	triggeredBy := domain.Principal{ID: req.TriggeredBy.ID, Type: domain.PrincipalType(req.TriggeredBy.Type)}

	wf, err := h.orchestrator.Send(r.Context(), id, event, triggeredBy)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			slog.WarnContext(r.Context(), "rejected workflow event", "workflow_id", id, "event", req.Type, "error", err)
		}
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, wf)
}
