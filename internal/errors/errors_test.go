package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripbundle/tripbundle/internal/core"
)

func TestFromPlanError(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"invalid", &core.FatalError{State: core.StateReceived, Err: fmt.Errorf("%w: empty destinations", core.ErrInvalidRequest)}, CodeValidationFailed, http.StatusUnprocessableEntity},
		{"auth", &core.FatalError{State: core.StateExploring, Err: core.ErrLLMAuth}, CodeUnauthorized, http.StatusUnauthorized},
		{"unreachable", core.ErrLLMUnreachable, CodeExternalService, http.StatusBadGateway},
		{"deadline", fmt.Errorf("plan: %w", context.DeadlineExceeded), CodeTimeout, http.StatusGatewayTimeout},
		{"other", core.ErrNoFragments, CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := FromPlanError(ctx, tc.err)
			require.NotNil(t, env)
			assert.Equal(t, tc.code, env.Code)
			assert.Equal(t, tc.status, HTTPStatusFromEnvelope(env))
			assert.NotEmpty(t, env.CorrelationID)
		})
	}

	env := FromPlanError(ctx, &core.FatalError{State: core.StateExploring, Err: core.ErrLLMAuth})
	assert.Equal(t, string(core.StateExploring), env.Context["state"])
}

func TestExtractTraceIDUsesSpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", extractTraceID(ctx))
	assert.NotEqual(t, "4bf92f3577b34da6a3ce929d0e0e4736", extractTraceID(context.Background()))
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/plan", nil)

	RespondWithEnvelope(rec, req, WrapValidationError(req.Context(), core.ErrInvalidRequest, "trip request is invalid"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeValidationFailed, body.Error.Code)
	assert.Equal(t, "trip request is invalid", body.Error.Message)
	assert.Equal(t, core.ErrInvalidRequest.Error(), body.Error.Details["wrapped_error"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, env.Code)

	wrapped := NewNotFoundError("missing")
	assert.Same(t, wrapped, EnsureEnvelope(wrapped))

	env = EnsureEnvelope(fmt.Errorf("boom"))
	assert.Equal(t, "boom", env.Context["wrapped_error"])
}
