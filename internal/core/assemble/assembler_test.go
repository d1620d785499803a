package assemble

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/core"
)

func tripDates() core.Dates {
	return core.Dates{Start: core.NewDate(2025, time.October, 10), End: core.NewDate(2025, time.October, 20)}
}

func fragment(dest string, start core.Date, costs core.CostBreakdown, longHaul, regional float64, acts map[int][]core.Activity) core.ItineraryFragment {
	days := make([]core.DayPlan, 5)
	for i := range days {
		days[i] = core.DayPlan{Day: i + 1, Date: start.AddDays(i), Title: fmt.Sprintf("%s day %d", dest, i+1), Activities: acts[i]}
	}
	return core.ItineraryFragment{
		Destination:           dest,
		Start:                 start,
		End:                   start.AddDays(5),
		Nights:                5,
		Days:                  days,
		Costs:                 costs,
		LongHaulFarePerPerson: longHaul,
		RegionalFarePerPerson: regional,
		EvidenceSufficient:    true,
		Confidence:            0.8,
	}
}

func parisAmsterdam() []core.ItineraryFragment {
	dates := tripDates()
	paris := fragment("Paris", dates.Start,
		core.CostBreakdown{Lodging: 800, Transport: 150, Activities: 250, Dining: 150}, 300, 50,
		map[int][]core.Activity{
			0: {{Name: "Seine dinner cruise", EstimatedCost: 180, Optional: true}},
			1: {{Name: "Louvre", EstimatedCost: 70}},
		})
	paris.InterestsCovered = []string{"art"}

	amsterdam := fragment("Amsterdam", dates.Start.AddDays(5),
		core.CostBreakdown{Lodging: 700, Transport: 100, Activities: 200, Dining: 100}, 250, 40,
		map[int][]core.Activity{
			0: {{Name: "Rijksmuseum", Description: "Dutch art and history", EstimatedCost: 60}},
			1: {{Name: "Canal tour", EstimatedCost: 90, Optional: true}},
		})
	return []core.ItineraryFragment{paris, amsterdam}
}

func testAssembler(budget float64) *Assembler {
	n := 0
	a := New(3).ForRequest(&core.TripRequest{
		BudgetTotal: budget,
		Party:       core.Party{Adults: 2, Children: 1},
		Interests:   []string{"art", "food"},
	})
	a.NewID = func() string {
		n++
		return fmt.Sprintf("b%d", n)
	}
	return a
}

func TestAssembleWithinBudget(t *testing.T) {
	bundles := testAssembler(4500).Assemble(context.Background(), parisAmsterdam(), tripDates(), "")
	require.Len(t, bundles, 2)

	best := bundles[0]
	assert.Equal(t, "Amsterdam → Paris", best.Label)
	assert.Equal(t, 4250.0, best.TotalCost)
	assert.False(t, best.OverBudget)
	assert.Zero(t, best.Overage)
	assert.Empty(t, best.DegradedDestinations)
	assert.NotNil(t, best.DegradedDestinations)
	assert.Equal(t, ObjectiveBalanced, best.ScoreDetail.Objective)
	assert.Equal(t, 0.9444, best.ScoreDetail.BudgetFit)
	assert.Equal(t, 0.5, best.ScoreDetail.InterestCoverage)
	assert.Equal(t, 1.0, best.ScoreDetail.Reliability)
	assert.Greater(t, best.Score, bundles[1].Score)

	// Transit: long-haul in and out, regional between.
	assert.Equal(t, 750.0, best.Stays[0].TransitIn)
	assert.Equal(t, 150.0, best.Stays[1].TransitIn)
	assert.Equal(t, 900.0, best.ReturnTransit)
	assert.Equal(t, 1800.0, best.Costs.Transit)
	assert.Equal(t, best.TotalCost, best.Costs.Total())

	assert.Equal(t, "Paris → Amsterdam", bundles[1].Label)
	assert.Equal(t, 4220.0, bundles[1].TotalCost)
}

func TestAssembleRestampsDates(t *testing.T) {
	bundles := testAssembler(4500).Assemble(context.Background(), parisAmsterdam(), tripDates(), "")
	reversed := bundles[0]

	require.Equal(t, []string{"Amsterdam", "Paris"}, reversed.DestinationOrder())
	assert.Equal(t, "2025-10-10", reversed.Stays[0].Start.String())
	assert.Equal(t, "2025-10-15", reversed.Stays[0].End.String())
	assert.Equal(t, "2025-10-15", reversed.Stays[1].Start.String())
	assert.Equal(t, "2025-10-20", reversed.Stays[1].End.String())
	assert.Equal(t, "2025-10-10", reversed.Stays[0].Itinerary.Days[0].Date.String())
	assert.Equal(t, "2025-10-19", reversed.Stays[1].Itinerary.Days[4].Date.String())

	// Inputs are not modified.
	assert.Equal(t, "2025-10-15", parisAmsterdam()[1].Start.String())
}

func TestAssembleTrimsOverBudget(t *testing.T) {
	fragments := parisAmsterdam()
	bundles := testAssembler(4000).Assemble(context.Background(), fragments, tripDates(), ObjectiveBalanced)
	require.Len(t, bundles, 3)

	best := bundles[0]
	assert.Equal(t, "Amsterdam → Paris (trimmed)", best.Label)
	assert.Equal(t, 3980.0, best.TotalCost)
	assert.False(t, best.OverBudget)
	for _, stay := range best.Stays {
		for _, day := range stay.Itinerary.Days {
			for _, act := range day.Activities {
				assert.False(t, act.Optional, "optional %q should be trimmed", act.Name)
			}
		}
	}

	assert.Equal(t, "Paris → Amsterdam (trimmed)", bundles[1].Label)
	assert.Equal(t, 3950.0, bundles[1].TotalCost)

	over := bundles[2]
	assert.Equal(t, "Paris → Amsterdam", over.Label)
	assert.True(t, over.OverBudget)
	assert.Equal(t, 220.0, over.Overage)
	assert.Negative(t, over.ScoreDetail.BudgetFit)

	// The original fragments keep their optional activities.
	assert.Len(t, fragments[0].Days[0].Activities, 1)
}

func TestAssembleBudgetInvariant(t *testing.T) {
	for _, budget := range []float64{2000, 4000, 4230, 4500, 9000} {
		for _, b := range testAssembler(budget).Assemble(context.Background(), parisAmsterdam(), tripDates(), "") {
			if b.OverBudget {
				assert.Greater(t, b.Overage, 0.0)
				assert.InDelta(t, b.TotalCost-budget, b.Overage, 0.005)
			} else {
				assert.LessOrEqual(t, b.TotalCost, budget)
				assert.Zero(t, b.Overage)
			}
		}
	}
}

func TestAssembleFlagsDegraded(t *testing.T) {
	fragments := parisAmsterdam()
	fragments[1].Degraded = true
	fragments[1].DegradedReason = core.ReasonInsufficientEvidence
	fragments[1].Fallback = "budget_skeleton"

	bundles := testAssembler(4500).Assemble(context.Background(), fragments, tripDates(), ObjectiveFamilyFriendly)
	require.NotEmpty(t, bundles)
	for _, b := range bundles {
		assert.Equal(t, []string{"Amsterdam"}, b.DegradedDestinations)
		require.Len(t, b.Degradations, 1)
		assert.Equal(t, core.ReasonInsufficientEvidence, b.Degradations[0].Reason)
		assert.Equal(t, 0.5, b.ScoreDetail.Reliability)
		assert.Equal(t, ObjectiveFamilyFriendly, b.ScoreDetail.Objective)
	}
}

func TestAssembleSingleDestination(t *testing.T) {
	fragments := parisAmsterdam()[:1]
	dates := core.Dates{Start: tripDates().Start, End: tripDates().Start.AddDays(5)}
	bundles := testAssembler(4500).Assemble(context.Background(), fragments, dates, "comfort")
	require.Len(t, bundles, 1)
	assert.Equal(t, "Paris", bundles[0].Label)
	assert.Equal(t, "b1", bundles[0].ID)
}

func TestAssembleEmpty(t *testing.T) {
	bundles := testAssembler(4500).Assemble(context.Background(), nil, tripDates(), "")
	assert.NotNil(t, bundles)
	assert.Empty(t, bundles)
}

func TestAssembleRespectsMaxBundles(t *testing.T) {
	a := testAssembler(4000)
	a.MaxBundles = 1
	bundles := a.Assemble(context.Background(), parisAmsterdam(), tripDates(), "")
	assert.Len(t, bundles, 1)
}

func TestWeightsFor(t *testing.T) {
	name, w := WeightsFor("  Comfort ")
	assert.Equal(t, ObjectiveComfort, name)
	assert.Equal(t, 0.45, w.Interest)

	name, w = WeightsFor("adventurous")
	assert.Equal(t, ObjectiveBalanced, name)
	assert.Equal(t, ObjectiveWeights[ObjectiveBalanced], w)

	for objective, row := range ObjectiveWeights {
		assert.InDelta(t, 1.0, row.Budget+row.Interest+row.Reliability, 1e-9, objective)
	}
}

func TestBudgetFit(t *testing.T) {
	assert.Equal(t, 1.0, BudgetFit(4500, 4500))
	assert.Equal(t, 0.5, BudgetFit(2250, 4500))
	assert.InDelta(t, -0.2, BudgetFit(5400, 4500), 1e-9)
	assert.Equal(t, -1.0, BudgetFit(20000, 4500))
	assert.Zero(t, BudgetFit(100, 0))
}

func TestInterestMatcher(t *testing.T) {
	m := NewInterestMatcher([]string{"Food", "art", "food", " "})
	assert.Equal(t, []string{"food", "art"}, m.Tags())
	assert.Equal(t, []string{"food"}, m.Match("Street FOOD tour past artisan shops"))
	assert.Nil(t, NewInterestMatcher(nil).Match("anything"))

	frag := parisAmsterdam()[1]
	covered := m.Covered(&frag)
	assert.Contains(t, covered, "art")
	assert.NotContains(t, covered, "food")
}
