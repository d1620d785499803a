package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/observability"
	"github.com/tripbundle/tripbundle/internal/server"
	"github.com/tripbundle/tripbundle/internal/server/handlers"
)

const tripBody = `{
  "origin": "Denver",
  "budget_total": 2200,
  "dates": {"start": "2026-03-02", "end": "2026-03-06"},
  "party": {"adults": 2},
  "destinations": ["Mexico City", "Oaxaca"]
}`

type slowPlanner struct {
	delay time.Duration
}

func (p slowPlanner) Orchestrate(ctx context.Context, req *core.TripRequest, allow, deny []string, creds core.Credentials) (*core.PlanResult, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &core.PlanResult{
		RequestID:            "integration",
		State:                core.StateCompleted,
		Currency:             req.Currency,
		BudgetTotal:          req.BudgetTotal,
		Bundles:              []core.Bundle{},
		DegradedDestinations: append([]string(nil), req.Destinations...),
		GeneratedAt:          time.Now().UTC(),
	}, nil
}

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors so we can skip
// when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func initMetricsOrSkip(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	cleanupMetrics(t)
}

// newTestServer binds to IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func newTestServer(t *testing.T, planner handlers.Planner) (*httptest.Server, *http.Client) {
	t.Helper()
	health := handlers.NewHealthManager("test")
	health.RegisterChecker("search_credentials", handlers.SearchKeyCheck(false))
	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, server.Dependencies{Planner: planner, Health: health})
	t.Cleanup(func() { handlers.SetHTTPErrorResponder(nil) })

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "STRUCTURED")
	initMetricsOrSkip(t)

	ts, client := newTestServer(t, slowPlanner{delay: 20 * time.Millisecond})

	const numRequests = 40
	const numWorkers = 8

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for reqNum := range requestChan {
				var resp *http.Response
				var err error
				switch reqNum % 4 {
				case 0:
					resp, err = client.Post(ts.URL+"/api/plan", "application/json", strings.NewReader(tripBody))
				case 1:
					resp, err = client.Post(ts.URL+"/api/plan", "application/json", strings.NewReader(`{"origin": ""}`))
				case 2:
					resp, err = client.Get(ts.URL + "/health")
				default:
					resp, err = client.Get(ts.URL + "/missing")
				}
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "test_http_requests_total")
	assert.Contains(t, metricsContent, "test_http_request_duration_ms")
	assert.Less(t, elapsed, 5*time.Second)
	t.Logf("load test: %d requests in %v", numRequests, elapsed)
}

func TestPlanEndpoint_RoundTrip(t *testing.T) {
	observability.InitServerLogger("test", "info", "SIMPLE")

	ts, client := newTestServer(t, slowPlanner{})

	for _, path := range []string{"/api/plan", "/trip/llm_only"} {
		resp, err := client.Post(ts.URL+path, "application/json", strings.NewReader(tripBody))
		require.NoError(t, err)
		body, readErr := io.ReadAll(resp.Body)
		require.NoError(t, resp.Body.Close())
		require.NoError(t, readErr)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), `"state":"completed"`, path)
		assert.Contains(t, string(body), `"Oaxaca"`, path)
	}

	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode, "missing server search key degrades but stays serving")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitServerLogger("test", "info", "SIMPLE")

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	ts, client := newTestServer(t, slowPlanner{})

	resp, err := client.Get(ts.URL + "/version")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
