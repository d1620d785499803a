package assemble

import (
	"math"
	"strings"

	"github.com/tripbundle/tripbundle/internal/core"
)

// Ranking objectives.
const (
	ObjectiveBalanced       = "balanced"
	ObjectiveFamilyFriendly = "family_friendly"
	ObjectiveComfort        = "comfort"
	ObjectiveCheapest       = "cheapest"
)

// ScoreWeights weighs the three ranking terms. Each row sums to 1.
type ScoreWeights struct {
	Budget      float64
	Interest    float64
	Reliability float64
}

// ObjectiveWeights is the fixed ranking table. Unknown objectives use balanced.
var ObjectiveWeights = map[string]ScoreWeights{
	ObjectiveBalanced:       {Budget: 0.40, Interest: 0.35, Reliability: 0.25},
	ObjectiveFamilyFriendly: {Budget: 0.30, Interest: 0.35, Reliability: 0.35},
	ObjectiveComfort:        {Budget: 0.20, Interest: 0.45, Reliability: 0.35},
	ObjectiveCheapest:       {Budget: 0.60, Interest: 0.20, Reliability: 0.20},
}

// WeightsFor resolves objective to a table row and returns the objective
// actually applied.
func WeightsFor(objective string) (string, ScoreWeights) {
	key := strings.ToLower(strings.TrimSpace(objective))
	if w, ok := ObjectiveWeights[key]; ok {
		return key, w
	}
	return ObjectiveBalanced, ObjectiveWeights[ObjectiveBalanced]
}

// Score combines the terms, rounded to four places.
func (w ScoreWeights) Score(d core.ScoreDetail) float64 {
	s := w.Budget*d.BudgetFit + w.Interest*d.InterestCoverage + w.Reliability*d.Reliability
	return math.Round(s*10000) / 10000
}

// BudgetFit rewards spending close to the budget without exceeding it and
// penalises overage proportionally, bottoming out at -1.
func BudgetFit(total, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	if total <= budget {
		return total / budget
	}
	return math.Max(-(total-budget)/budget, -1)
}

func scoreTerms(total, budget float64, covered, requested, degraded, stays int) core.ScoreDetail {
	coverage := 1.0
	if requested > 0 {
		coverage = float64(covered) / float64(requested)
	}
	reliability := 1.0
	if stays > 0 {
		reliability = 1 - float64(degraded)/float64(stays)
	}
	return core.ScoreDetail{
		BudgetFit:        round4(BudgetFit(total, budget)),
		InterestCoverage: round4(coverage),
		Reliability:      round4(reliability),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
