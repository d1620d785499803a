package core

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleRequest() *TripRequest {
	return &TripRequest{
		Origin:       "San Francisco",
		BudgetTotal:  4500,
		Currency:     "usd",
		Dates:        Dates{Start: NewDate(2025, time.October, 10), End: NewDate(2025, time.October, 20)},
		Party:        Party{Adults: 2, Children: 1},
		Interests:    []string{"Museums", "food", "museums", " "},
		Destinations: []string{" Paris ", "Amsterdam"},
		Prefs:        Prefs{Objective: "Balanced"},
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	req := sampleRequest()
	req.Normalize()

	require.Equal(t, DefaultPurpose, req.Purpose)
	require.Equal(t, "USD", req.Currency)
	require.Equal(t, "balanced", req.Prefs.Objective)
	require.Equal(t, []string{"Paris", "Amsterdam"}, req.Destinations)
	require.Equal(t, []string{"museums", "food"}, req.Interests)
	require.NoError(t, req.Validate())
}

func TestValidateRejectsContractViolations(t *testing.T) {
	cases := map[string]func(r *TripRequest){
		"no adult":        func(r *TripRequest) { r.Party = Party{Children: 2} },
		"reversed dates":  func(r *TripRequest) { r.Dates.Start, r.Dates.End = r.Dates.End, r.Dates.Start },
		"same day":        func(r *TripRequest) { r.Dates.End = r.Dates.Start },
		"bad currency":    func(r *TripRequest) { r.Currency = "DOLLARS" },
		"zero budget":     func(r *TripRequest) { r.BudgetTotal = 0 },
		"no destinations": func(r *TripRequest) { r.Destinations = nil },
		"duplicate stop":  func(r *TripRequest) { r.Destinations = []string{"Paris", "paris"} },
		"too many stops": func(r *TripRequest) {
			r.Dates.End = r.Dates.Start.AddDays(1)
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := sampleRequest()
			req.Normalize()
			mutate(req)
			err := req.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestStayNightsEvenSplit(t *testing.T) {
	req := sampleRequest()
	req.Destinations = []string{"Paris", "Amsterdam", "Berlin"}
	nights, err := req.StayNights()
	require.NoError(t, err)
	require.Equal(t, []int{4, 3, 3}, nights)
}

func TestStayNightsExplicit(t *testing.T) {
	req := sampleRequest()
	req.Normalize()
	req.Stays = map[string]int{"paris": 7, "Amsterdam": 3}
	nights, err := req.StayNights()
	require.NoError(t, err)
	require.Equal(t, []int{7, 3}, nights)

	req.Stays = map[string]int{"Paris": 5, "Amsterdam": 4}
	_, err = req.StayNights()
	require.Error(t, err)
	require.ErrorIs(t, req.Validate(), ErrInvalidRequest)
}

func TestDateJSON(t *testing.T) {
	var dates Dates
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2025-10-10","end":"2025-10-20"}`), &dates))
	require.Equal(t, 10, dates.Nights())

	data, err := json.Marshal(dates)
	require.NoError(t, err)
	require.JSONEq(t, `{"start":"2025-10-10","end":"2025-10-20"}`, string(data))

	require.Error(t, json.Unmarshal([]byte(`{"start":"10/10/2025"}`), &dates))
}

func TestCredentialsNeverPrintKeys(t *testing.T) {
	creds := NewCredentials("  sk-secret ", "")
	require.True(t, creds.HasLLMKey())
	require.False(t, creds.HasSearchKey())
	require.Equal(t, "sk-secret", creds.OpenAIAPIKey)

	for _, rendered := range []string{creds.String(), fmt.Sprintf("%v", creds), fmt.Sprintf("%+v", creds), fmt.Sprintf("%#v", creds)} {
		require.NotContains(t, rendered, "sk-secret")
	}

	data, err := json.Marshal(creds)
	require.NoError(t, err)
	require.Equal(t, "{}", string(data))
}

func TestDaysUntilLongRanges(t *testing.T) {
	start := NewDate(2025, time.January, 1)
	end := NewDate(2400, time.January, 1)
	require.Equal(t, 136965, start.DaysUntil(end))
	require.Equal(t, -136965, end.DaysUntil(start))
	require.True(t, start.AddDays(start.DaysUntil(end)).Equal(end))

	dates := Dates{Start: NewDate(2026, time.March, 28), End: NewDate(2026, time.April, 2)}
	require.Equal(t, 5, dates.Nights())
}
