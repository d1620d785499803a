package budget

import "github.com/tripbundle/tripbundle/internal/core"

// Reconcile recomputes actual spend for a set of fragments plus any extra
// cost lines (such as inter-destination transit) and reports how far it is
// over budgetTotal. Fragments are not modified. overage is never negative.
func Reconcile(fragments []core.ItineraryFragment, budgetTotal float64, extra ...float64) (total, overage float64) {
	for i := range fragments {
		total += fragments[i].Total()
	}
	for _, e := range extra {
		total += e
	}
	total = core.RoundCents(total)
	if diff := core.RoundCents(total - budgetTotal); diff > 0 {
		overage = diff
	}
	return total, overage
}
