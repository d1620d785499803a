package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/store"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

type stubLLM struct{ err error }

func (s stubLLM) CheckLLM(core.Credentials) error { return s.err }

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("rate_store", stubChecker{})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["rate_store"])
}

func TestHealthHandlerReportsDegradedWithOK(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("rate_store", stubChecker{})
	manager.RegisterChecker("search_key", SearchKeyCheck(false))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDegraded, resp.Checks["search_key"])
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("rate_store", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, StatusUnhealthy, checks["rate_store"])
}

func TestProbesShareChecks(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("llm", LLMCredentialCheck(stubLLM{err: errors.New("no key")}))

	for _, handler := range []http.HandlerFunc{manager.LivenessHandler, manager.ReadinessHandler, manager.StartupHandler} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ProbeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, StatusDegraded, resp.Status)
	}
}

func TestRunHealthChecksClassifiesErrors(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("ok", stubChecker{})
	manager.RegisterChecker("slow", stubChecker{err: fmt.Errorf("ping: %w", context.DeadlineExceeded)})
	manager.RegisterChecker("thin", stubChecker{err: fmt.Errorf("%w: fallback only", ErrDegraded)})
	manager.RegisterChecker("broken", stubChecker{err: errors.New("boom")})

	checks := manager.runHealthChecks(context.Background())
	assert.Equal(t, map[string]string{
		"ok":     StatusHealthy,
		"slow":   StatusTimeout,
		"thin":   StatusDegraded,
		"broken": StatusUnhealthy,
	}, checks)
	assert.Equal(t, StatusUnhealthy, manager.determineOverallStatus(checks))
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	assert.Equal(t, StatusDegraded, manager.determineOverallStatus(map[string]string{"db": StatusTimeout}))
}

func TestRateStoreCheck(t *testing.T) {
	rates := store.NewMemoryRateStore(0)
	t.Cleanup(func() { _ = rates.Close() })

	assert.NoError(t, RateStoreCheck(rates).CheckHealth(context.Background()))
	assert.ErrorIs(t, RateStoreCheck(nil).CheckHealth(context.Background()), ErrDegraded)
}

func TestLLMCredentialCheck(t *testing.T) {
	assert.NoError(t, LLMCredentialCheck(stubLLM{}).CheckHealth(context.Background()))
	assert.ErrorIs(t, LLMCredentialCheck(stubLLM{err: core.ErrLLMAuth}).CheckHealth(context.Background()), ErrDegraded)
	assert.ErrorIs(t, LLMCredentialCheck(nil).CheckHealth(context.Background()), ErrDegraded)
}
