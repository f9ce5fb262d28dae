package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/statemachine"
)

// stubOrchestrator implements WorkflowOrchestrator and panics on any call
// a test doesn't expect, following the same pattern as the stub
// repositories used elsewhere to pin down handler-level request validation.
type stubOrchestrator struct {
	createFn func(ctx context.Context, input domain.CreateWorkflowInput) (*domain.Workflow, error)
	sendFn   func(ctx context.Context, id string, event statemachine.Event, triggeredBy domain.Principal) (*domain.Workflow, error)
	getFn    func(ctx context.Context, id string) (*domain.Workflow, error)
}

func (s *stubOrchestrator) Create(ctx context.Context, input domain.CreateWorkflowInput) (*domain.Workflow, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	panic("Create not implemented")
}

func (s *stubOrchestrator) Send(ctx context.Context, id string, event statemachine.Event, triggeredBy domain.Principal) (*domain.Workflow, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, id, event, triggeredBy)
	}
	panic("Send not implemented")
}

func (s *stubOrchestrator) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	panic("GetByID not implemented")
}

func (s *stubOrchestrator) GetHistory(ctx context.Context, id string) ([]domain.WorkflowEvent, error) {
	panic("GetHistory not implemented")
}

func newWorkflowTestRouter(orch WorkflowOrchestrator) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/workflows", NewWorkflowHandler(orch).Routes)
	return r
}

func TestWorkflowHandler_Create_MissingRequiredFieldsReturnsBadRequest(t *testing.T) {
	r := newWorkflowTestRouter(&stubOrchestrator{})

	req := httptest.NewRequest(http.MethodPost, "/workflows/", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_Create_MalformedBodyReturnsBadRequest(t *testing.T) {
	r := newWorkflowTestRouter(&stubOrchestrator{})

	req := httptest.NewRequest(http.MethodPost, "/workflows/", bytes.NewReader([]byte(`not json`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_Create_PassesInputToOrchestrator(t *testing.T) {
	var captured domain.CreateWorkflowInput
	orch := &stubOrchestrator{
		createFn: func(ctx context.Context, input domain.CreateWorkflowInput) (*domain.Workflow, error) {
			captured = input
			return &domain.Workflow{ID: "wf-1", State: domain.WorkflowStateCreated}, nil
		},
	}
	r := newWorkflowTestRouter(orch)

	body := `{"vaultId":"vault-1","chainAlias":"eth","marshalledHex":"0xdead","createdBy":{"id":"user-1","type":"User"}}`
	req := httptest.NewRequest(http.MethodPost, "/workflows/", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "vault-1", captured.VaultID)
	assert.Equal(t, domain.ChainAlias("eth"), captured.ChainAlias)
	assert.Equal(t, domain.PrincipalUser, captured.CreatedBy.Type)
}

func TestWorkflowHandler_Get_NotFoundMapsTo404(t *testing.T) {
	orch := &stubOrchestrator{
		getFn: func(ctx context.Context, id string) (*domain.Workflow, error) {
			return nil, domain.ErrNotFound
		},
	}
	r := newWorkflowTestRouter(orch)

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestWorkflowHandler_SendEvent_MissingTypeReturnsBadRequest(t *testing.T) {
	r := newWorkflowTestRouter(&stubOrchestrator{})

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/events", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_SendEvent_InvalidTransitionMapsTo409(t *testing.T) {
	orch := &stubOrchestrator{
		sendFn: func(ctx context.Context, id string, event statemachine.Event, triggeredBy domain.Principal) (*domain.Workflow, error) {
			return nil, domain.ErrInvalidStateTransition
		},
	}
	r := newWorkflowTestRouter(orch)

	body := `{"type":"CONFIRM","triggeredBy":{"id":"user-1","type":"User"}}`
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/events", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
