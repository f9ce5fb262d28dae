package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/domain"
	mw "github.com/reconcore/core/internal/http/middleware"
)

type stubAuthenticator struct {
	credential mw.Credential
	err        error
}

func (s *stubAuthenticator) ValidateAPIKey(ctx context.Context, apiKey string) (mw.Credential, error) {
	return s.credential, s.err
}

func newTestAPIServer(auth mw.Authenticator) *APIServer {
	return NewAPIServer(
		NewWorkflowHandler(&stubOrchestrator{}),
		NewReconciliationHandler(&stubReconciliationService{}),
		auth,
		ServerConfig{},
	)
}

func TestAPIServer_Health_IsUnauthenticated(t *testing.T) {
	srv := newTestAPIServer(&stubAuthenticator{err: assertAnError{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIServer_APIRoutes_RejectMissingCredential(t *testing.T) {
	srv := newTestAPIServer(&stubAuthenticator{err: assertAnError{}})

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/wf-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIServer_APIRoutes_AcceptValidCredential(t *testing.T) {
	orch := &stubOrchestrator{
		getFn: func(ctx context.Context, id string) (*domain.Workflow, error) {
			return &domain.Workflow{ID: id, State: domain.WorkflowStateCreated}, nil
		},
	}

	srv := NewAPIServer(
		NewWorkflowHandler(orch),
		NewReconciliationHandler(&stubReconciliationService{}),
		&stubAuthenticator{credential: mw.Credential{ID: "key-1", Name: "test"}},
		ServerConfig{},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/wf-1", nil)
	req.Header.Set("Authorization", "Bearer sk-recon-v1-abc-def")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "invalid credential" }
