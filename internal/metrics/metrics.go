// Package metrics names the planner's Prometheus series and records them
// through the shared telemetry system. Every recorder is a no-op until
// observability.InitMetrics has run.
package metrics

import (
	"strconv"
	"time"

	"github.com/tripbundle/tripbundle/internal/observability"
)

// Series names. The exporter prefixes them with the telemetry namespace.
const (
	PlansTotal                = "plans_total"
	PlanDuration              = "plan_duration_ms"
	DestinationsDegradedTotal = "destinations_degraded_total"
	SearchRequestsTotal       = "search_requests_total"
	LLMRequestsTotal          = "llm_requests_total"
	BundlesReturned           = "bundles_returned"
	ServerStartTime           = "app_server_start_time_seconds"

	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

func count(name string, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, labels)
	}
}

func gauge(name string, value float64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, nil)
	}
}

// RecordPlan counts a finished orchestration by terminal state and observes
// its wall time.
func RecordPlan(state string, duration time.Duration) {
	count(PlansTotal, map[string]string{"state": state})
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(PlanDuration, duration, nil)
	}
}

// RecordDegraded counts a destination that fell back to a degraded fragment.
func RecordDegraded(reason string) {
	count(DestinationsDegradedTotal, map[string]string{"reason": reason})
}

// RecordSearch counts one search gateway call. outcome is ok, empty or unavailable.
func RecordSearch(outcome string) {
	count(SearchRequestsTotal, map[string]string{"outcome": outcome})
}

// RecordLLM counts one completion attempt by outcome.
func RecordLLM(outcome string) {
	count(LLMRequestsTotal, map[string]string{"outcome": outcome})
}

func SetBundlesReturned(n int) { gauge(BundlesReturned, float64(n)) }

// SetServerStartTime publishes the server start as a Unix timestamp.
func SetServerStartTime(unix int64) { gauge(ServerStartTime, float64(unix)) }

// RecordError counts an error envelope written to a client.
func RecordError(code string, status int) {
	count(ErrorsTotalName, map[string]string{"error_code": code, "http_status": strconv.Itoa(status)})
}

func RecordPanic() { count(PanicsTotalName, nil) }

func RecordErrorByEndpoint(endpoint, code string) {
	count(ErrorsByEndpointName, map[string]string{"endpoint": endpoint, "error_code": code})
}
