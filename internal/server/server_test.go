package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core"
	apperrors "github.com/tripbundle/tripbundle/internal/errors"
	"github.com/tripbundle/tripbundle/internal/server/handlers"
)

type stubPlanner struct {
	calls int
}

func (p *stubPlanner) Orchestrate(ctx context.Context, req *core.TripRequest, allow, deny []string, creds core.Credentials) (*core.PlanResult, error) {
	p.calls++
	return &core.PlanResult{
		RequestID:            "req-1",
		State:                core.StateCompleted,
		Currency:             req.Currency,
		Bundles:              []core.Bundle{},
		DegradedDestinations: []string{},
	}, nil
}

const tripBody = `{
  "origin": "Denver",
  "budget_total": 2200,
  "dates": {"start": "2026-03-02", "end": "2026-03-06"},
  "party": {"adults": 1},
  "destinations": ["Mexico City"]
}`

func newTestServer(t *testing.T, planner handlers.Planner) *Server {
	t.Helper()
	t.Cleanup(func() { handlers.SetHTTPErrorResponder(nil) })
	return New(config.ServerConfig{Host: "127.0.0.1", AllowedOrigins: []string{"https://app.example"}},
		Dependencies{Planner: planner})
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, &stubPlanner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerPlanRoutes(t *testing.T) {
	planner := &stubPlanner{}
	srv := newTestServer(t, planner)

	for _, path := range []string{"/api/plan", "/trip/llm_only"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(tripBody))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		var result core.PlanResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, core.StateCompleted, result.State)
	}
	assert.Equal(t, 2, planner.calls)
}

func TestServerPlanValidationReturns422(t *testing.T) {
	srv := newTestServer(t, &stubPlanner{})

	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(`{"destinations": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServerCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubPlanner{})

	req := httptest.NewRequest(http.MethodOptions, "/api/plan", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, &stubPlanner{})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
