package intake

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/core"
)

const parisJSON = `{
  "origin": "Boston",
  "budget_total": 4500,
  "dates": {"start": "2026-06-01", "end": "2026-06-08"},
  "party": {"adults": 2, "children": 1},
  "destinations": ["Paris", "Amsterdam"],
  "interests": ["museums", "food"],
  "constraints": {"dietary": "vegetarian", "visa": true, "max_walk_km": 5},
  "prefs": {"objective": "family_friendly"},
  "openai_api_key": "  sk-request  ",
  "tavily_api_key": ""
}`

func TestDecodeJSON(t *testing.T) {
	sub, err := Decode([]byte(parisJSON), FormatJSON)
	require.NoError(t, err)

	req := sub.Request
	assert.Equal(t, "Boston", req.Origin)
	assert.Equal(t, 4500.0, req.BudgetTotal)
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, "family vacation", req.Purpose)
	assert.Equal(t, "2026-06-01", req.Dates.Start.String())
	assert.Equal(t, 7, req.Dates.Nights())
	assert.Equal(t, core.Party{Adults: 2, Children: 1}, req.Party)
	assert.Equal(t, []string{"Paris", "Amsterdam"}, req.Destinations)
	assert.Equal(t, map[string]string{"dietary": "vegetarian", "visa": "true", "max_walk_km": "5"}, req.Constraints)

	assert.Equal(t, "sk-request", sub.Credentials.OpenAIAPIKey)
	assert.False(t, sub.Credentials.HasSearchKey())
	require.NoError(t, req.Validate())
}

func TestDecodeYAML(t *testing.T) {
	body := `
origin: Lisbon
budget_total: 2000
currency: eur
purpose: conference
dates:
  start: 2026-09-10
  end: 2026-09-14
party:
  adults: 1
destinations: [Porto]
`
	sub, err := Decode([]byte(body), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "conference", sub.Request.Purpose)
	assert.Equal(t, "eur", sub.Request.Currency)
	assert.Equal(t, "2026-09-10", sub.Request.Dates.Start.String())
	assert.Empty(t, sub.Request.Interests)
	assert.NotNil(t, sub.Request.Constraints)
}

func TestFromMapFormAliases(t *testing.T) {
	sub, err := FromMap(map[string]any{
		"origin":       "New York",
		"startDate":    "2026-05-01",
		"endDate":      "2026-05-06",
		"budget":       "3000",
		"adults":       "2",
		"objective":    "cheapest",
		"destinations": "Rome, Florence",
		"interests":    "art,food",
		"openAiKey":    "sk-form",
		"tavilyKey":    " tvly-form ",
		"denyDomains":  "pinterest.com",
	})
	require.NoError(t, err)

	req := sub.Request
	assert.Equal(t, "2026-05-01", req.Dates.Start.String())
	assert.Equal(t, "2026-05-06", req.Dates.End.String())
	assert.Equal(t, 3000.0, req.BudgetTotal)
	assert.Equal(t, 2, req.Party.Adults)
	assert.Equal(t, "cheapest", req.Prefs.Objective)
	assert.Equal(t, "budget getaway", req.Purpose)
	assert.Equal(t, []string{"Rome", "Florence"}, req.Destinations)
	assert.Equal(t, []string{"art", "food"}, req.Interests)
	assert.Equal(t, []string{"pinterest.com"}, req.DenyDomains)
	assert.Equal(t, core.NewCredentials("sk-form", "tvly-form"), sub.Credentials)
}

func TestFromMapCanonicalWinsOverAlias(t *testing.T) {
	sub, err := FromMap(map[string]any{
		"origin":       "Boston",
		"budget_total": 1000.0,
		"budget":       50.0,
		"dates":        map[string]any{"start": "2026-01-01", "end": "2026-01-04"},
		"startDate":    "2025-12-30",
		"party":        map[string]any{"adults": 1},
		"destinations": []any{"Montreal"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, sub.Request.BudgetTotal)
	assert.Equal(t, "2026-01-01", sub.Request.Dates.Start.String())
}

func TestFromMapDoesNotMutateInput(t *testing.T) {
	party := map[string]any{"adults": "2"}
	raw := map[string]any{
		"origin":         "Boston",
		"budget_total":   1000.0,
		"dates":          map[string]any{"start": "2026-01-01", "end": "2026-01-04"},
		"party":          party,
		"destinations":   []any{"Montreal"},
		"openai_api_key": "sk",
	}
	_, err := FromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, "2", party["adults"])
	assert.Equal(t, "sk", raw["openai_api_key"])
}

func TestSchemaViolations(t *testing.T) {
	_, err := Decode([]byte(`{"origin": "", "budget_total": -5, "dates": {"start": "June 1"}, "party": {"adults": 0}, "destinations": []}`), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Problems), 5)
	assert.NotContains(t, err.Error(), "sk-")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`[1,2]`), FormatJSON)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = Decode([]byte("origin: [unclosed"), FormatYAML)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = Decode([]byte(`{}`), Format("toml"))
	assert.Error(t, err)
}

func TestInferPurpose(t *testing.T) {
	assert.Equal(t, "family vacation", InferPurpose("family_friendly"))
	assert.Equal(t, "premium leisure escape", InferPurpose(" Comfort "))
	assert.Equal(t, "budget getaway", InferPurpose("cheapest"))
	assert.Equal(t, "leisure", InferPurpose("balanced"))
	assert.Equal(t, "leisure", InferPurpose(""))
}
