package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/core"
	apperrors "github.com/tripbundle/tripbundle/internal/errors"
)

type recordingPlanner struct {
	req   *core.TripRequest
	creds core.Credentials
	err   error
}

func (p *recordingPlanner) Orchestrate(ctx context.Context, req *core.TripRequest, allow, deny []string, creds core.Credentials) (*core.PlanResult, error) {
	p.req = req
	p.creds = creds
	if p.err != nil {
		return nil, p.err
	}
	return &core.PlanResult{
		RequestID:   "req-1",
		State:       core.StateCompleted,
		Currency:    req.Currency,
		BudgetTotal: req.BudgetTotal,
		Bundles:     []core.Bundle{},
	}, nil
}

const planJSON = `{
  "origin": "Boston",
  "budget_total": 3000,
  "dates": {"start": "2026-05-01", "end": "2026-05-05"},
  "party": {"adults": 2},
  "destinations": ["Lisbon"],
  "openai_api_key": " sk-user ",
  "tavily_api_key": "tvly-user"
}`

func servePlan(t *testing.T, planner Planner, contentType string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	NewPlanHandler(planner).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPlanHandlerJSON(t *testing.T) {
	planner := &recordingPlanner{}
	rec := servePlan(t, planner, "application/json; charset=utf-8", planJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.PlanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.StateCompleted, result.State)
	assert.Equal(t, "USD", result.Currency)

	require.NotNil(t, planner.req)
	assert.Equal(t, "Boston", planner.req.Origin)
	assert.Equal(t, "sk-user", planner.creds.OpenAIAPIKey)
	assert.Equal(t, "tvly-user", planner.creds.TavilyAPIKey)
}

func TestPlanHandlerDefaultsToJSON(t *testing.T) {
	planner := &recordingPlanner{}
	rec := servePlan(t, planner, "", planJSON)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlanHandlerYAML(t *testing.T) {
	body := `
origin: Lisbon
budget_total: 1800
currency: EUR
dates: {start: 2026-09-10, end: 2026-09-14}
party: {adults: 1}
destinations: [Porto]
`
	planner := &recordingPlanner{}
	rec := servePlan(t, planner, "application/yaml", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "EUR", planner.req.Currency)
	assert.Equal(t, []string{"Porto"}, planner.req.Destinations)
}

func TestPlanHandlerForm(t *testing.T) {
	form := url.Values{
		"origin":       {"Chicago"},
		"budget":       {"2500"},
		"startDate":    {"2026-07-01"},
		"endDate":      {"2026-07-06"},
		"adults":       {"2"},
		"destinations": {"Rome, Florence"},
		"objective":    {"comfort"},
		"openAiKey":    {"  sk-form "},
	}
	planner := &recordingPlanner{}
	rec := servePlan(t, planner, "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 2500.0, planner.req.BudgetTotal)
	assert.Equal(t, []string{"Rome", "Florence"}, planner.req.Destinations)
	assert.Equal(t, 2, planner.req.Party.Adults)
	assert.Equal(t, "premium leisure escape", planner.req.Purpose)
	assert.Equal(t, "sk-form", planner.creds.OpenAIAPIKey)
}

func TestPlanHandlerValidationFailure(t *testing.T) {
	planner := &recordingPlanner{}
	rec := servePlan(t, planner, "application/json", `{"origin": "Boston", "openai_api_key": "sk-secret"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperrors.CodeValidationFailed, decodeError(t, rec).Error.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret")
	assert.Nil(t, planner.req)
}

func TestPlanHandlerRejectsUnknownContentType(t *testing.T) {
	rec := servePlan(t, &recordingPlanner{}, "image/png", "xx")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlanHandlerBodyTooLarge(t *testing.T) {
	body := `{"origin": "` + strings.Repeat("a", MaxPlanBodyBytes) + `"}`
	rec := servePlan(t, &recordingPlanner{}, "application/json", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Error.Code)
}

func TestPlanHandlerMapsFatalErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&core.FatalError{State: core.StateAllocating, Err: core.ErrLLMAuth}, http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{&core.FatalError{State: core.StateAllocating, Err: core.ErrLLMUnreachable}, http.StatusBadGateway, apperrors.CodeExternalService},
		{&core.FatalError{State: core.StateReceived, Err: core.ErrInvalidRequest}, http.StatusUnprocessableEntity, apperrors.CodeValidationFailed},
		{fmt.Errorf("wiring: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, apperrors.CodeTimeout},
	}
	for _, tc := range cases {
		rec := servePlan(t, &recordingPlanner{err: tc.err}, "application/json", planJSON)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.code, decodeError(t, rec).Error.Code)
		assert.NotContains(t, rec.Body.String(), "sk-user")
	}
}

func TestPlanHandlerWithoutPlanner(t *testing.T) {
	rec := servePlan(t, nil, "application/json", planJSON)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFormToMap(t *testing.T) {
	out := formToMap(map[string][]string{
		"origin":       {"Oslo"},
		"destinations": {"Bergen", "Tromso"},
		" empty ":      {},
	})
	assert.Equal(t, "Oslo", out["origin"])
	assert.Equal(t, []any{"Bergen", "Tromso"}, out["destinations"])
	assert.NotContains(t, out, "empty")
	assert.Len(t, out, 2)
}
