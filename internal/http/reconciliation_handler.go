package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/http/response"
)

// ReconciliationService is the application-layer contract the HTTP handler
// depends on (spec §4.2 public operations).
type ReconciliationService interface {
	FindActiveJob(ctx context.Context, address string, chain domain.ChainAlias) (*domain.ReconciliationJob, error)
	CreateJob(ctx context.Context, input domain.CreateJobInput) (*domain.ReconciliationJob, error)
	GetJob(ctx context.Context, id string) (*domain.ReconciliationJob, []domain.AuditEntry, error)
	ListJobs(ctx context.Context, address string, chain domain.ChainAlias, params domain.ListJobsParams) (domain.ListJobsResult, error)
	DeleteJob(ctx context.Context, id string) error
}

// ReconciliationHandler serves the reconciliation-job HTTP surface (spec §6).
type ReconciliationHandler struct {
	service ReconciliationService
}

// NewReconciliationHandler constructs a ReconciliationHandler.
func NewReconciliationHandler(service ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

// Routes registers the handler's routes on r.
func (h *ReconciliationHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
}

type createJobRequest struct {
	Address       string `json:"address"`
	Chain         string `json:"chainAlias"`
	Mode          string `json:"mode,omitempty"`
	FromBlock     *int64 `json:"fromBlock,omitempty"`
	ToBlock       *int64 `json:"toBlock,omitempty"`
	FromTimestamp *int64 `json:"fromTimestamp,omitempty"`
	ToTimestamp   *int64 `json:"toTimestamp,omitempty"`
}

func (h *ReconciliationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Address == "" || req.Chain == "" {
		response.ValidationError(w, "address/chainAlias", "required")
		return
	}

	input := domain.CreateJobInput{
		Address:   req.Address,
		Chain:     domain.ChainAlias(req.Chain),
		Mode:      domain.JobMode(req.Mode),
		FromBlock: req.FromBlock,
		ToBlock:   req.ToBlock,
	}
	if req.FromTimestamp != nil {
		ts := unixToTime(*req.FromTimestamp)
		input.FromTimestamp = &ts
	}
	if req.ToTimestamp != nil {
		ts := unixToTime(*req.ToTimestamp)
		input.ToTimestamp = &ts
	}

	// Enforce the one-active-job invariant before attempting to create
	// (spec §4.2 "Enforcement of one-active-job"): a running job wins over
	// the new request, a pending job is replaced, and the store's partial
	// unique index remains the last line of defense under races.
	active, err := h.service.FindActiveJob(r.Context(), input.Address, input.Chain)
	if err != nil {
		slog.ErrorContext(r.Context(), "find active job failed", "error", err)
		response.FromDomainError(w, r, err)
		return
	}
	if active != nil {
		if active.Status == domain.JobStatusRunning {
			response.OK(w, active)
			return
		}
		if err := h.service.DeleteJob(r.Context(), active.ID); err != nil {
			slog.ErrorContext(r.Context(), "replace pending job failed", "error", err)
			response.FromDomainError(w, r, err)
			return
		}
	}

	job, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		slog.ErrorContext(r.Context(), "create reconciliation job failed", "error", err)
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, job)
}

func (h *ReconciliationHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, entries, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, struct {
		Job   *domain.ReconciliationJob `json:"job"`
		Audit []domain.AuditEntry       `json:"auditLog"`
	}{Job: job, Audit: entries})
}

func (h *ReconciliationHandler) list(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	chain := r.URL.Query().Get("chainAlias")
	if address == "" || chain == "" {
		response.ValidationError(w, "address/chainAlias", "required query parameters")
		return
	}

	params := domain.ListJobsParams{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Offset = n
		}
	}

	result, err := h.service.ListJobs(r.Context(), address, domain.ChainAlias(chain), params)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, result)
}

func (h *ReconciliationHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteJob(r.Context(), id); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}
