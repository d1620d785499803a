// Package budget splits a trip budget across destinations and spending
// categories, and measures actual spend against it after synthesis.
package budget

import (
	"fmt"
	"math"

	"github.com/tripbundle/tripbundle/internal/core"
)

// Weights is the category split of one destination's share. Values are
// relative; they are renormalised after party scaling.
type Weights struct {
	Lodging    float64 `mapstructure:"lodging"`
	Transport  float64 `mapstructure:"transport"`
	Activities float64 `mapstructure:"activities"`
	Dining     float64 `mapstructure:"dining"`
	Buffer     float64 `mapstructure:"buffer"`
}

// DefaultWeights is the base category split before party scaling.
var DefaultWeights = Weights{
	Lodging:    0.35,
	Transport:  0.25,
	Activities: 0.20,
	Dining:     0.10,
	Buffer:     0.10,
}

func (w Weights) sum() float64 {
	return w.Lodging + w.Transport + w.Activities + w.Dining + w.Buffer
}

func (w Weights) valid() bool {
	for _, v := range []float64{w.Lodging, w.Transport, w.Activities, w.Dining, w.Buffer} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return w.sum() > 0
}

// Allocator computes per-destination budgets. It holds no state beyond its
// weights, so identical inputs always give identical outputs.
type Allocator struct {
	Weights Weights
}

// NewAllocator returns an allocator using DefaultWeights.
func NewAllocator() *Allocator {
	return &Allocator{Weights: DefaultWeights}
}

// Allocate splits budgetTotal across destinations in request order. nights
// gives each destination's stay length; nil means an even split of the date
// range with remainder nights going to the earliest destinations. Category
// amounts are rounded to cents and every rounding residue lands in Buffer, so
// each allocation's categories sum exactly to its share and the shares sum
// exactly to budgetTotal.
func (a *Allocator) Allocate(budgetTotal float64, currency string, destinations []string, dates core.Dates, nights []int, party core.Party) ([]core.Allocation, error) {
	if budgetTotal <= 0 || math.IsNaN(budgetTotal) || math.IsInf(budgetTotal, 0) {
		return nil, fmt.Errorf("%w: budget must be a positive amount of %s", core.ErrInvalidRequest, currency)
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations to allocate", core.ErrInvalidRequest)
	}
	total := dates.Nights()
	if total < len(destinations) {
		return nil, fmt.Errorf("%w: %d nights cannot cover %d destinations", core.ErrInvalidRequest, total, len(destinations))
	}

	if nights == nil {
		nights = EvenSplit(total, len(destinations))
	}
	if len(nights) != len(destinations) {
		return nil, fmt.Errorf("%w: %d stay lengths for %d destinations", core.ErrInvalidRequest, len(nights), len(destinations))
	}
	sum := 0
	for i, n := range nights {
		if n < 1 {
			return nil, fmt.Errorf("%w: stay for %q must be at least one night", core.ErrInvalidRequest, destinations[i])
		}
		sum += n
	}
	if sum != total {
		return nil, fmt.Errorf("%w: stays cover %d nights but the date range has %d", core.ErrInvalidRequest, sum, total)
	}

	weights := a.scaledWeights(party)

	allocations := make([]core.Allocation, len(destinations))
	budget := core.RoundCents(budgetTotal)
	assigned := 0.0
	start := dates.Start
	for i, dest := range destinations {
		share := core.RoundCents(budget * float64(nights[i]) / float64(total))
		if i == len(destinations)-1 {
			share = core.RoundCents(budget - assigned)
		}
		assigned = core.RoundCents(assigned + share)

		end := start.AddDays(nights[i])
		allocations[i] = core.Allocation{
			Destination: dest,
			Nights:      nights[i],
			Start:       start,
			End:         end,
			Share:       share,
			Categories:  splitShare(share, weights),
		}
		start = end
	}
	return allocations, nil
}

// AllocateRequest allocates a validated request, honouring explicit stays.
func (a *Allocator) AllocateRequest(req *core.TripRequest) ([]core.Allocation, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", core.ErrInvalidRequest)
	}
	nights, err := req.StayNights()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	return a.Allocate(req.BudgetTotal, req.Currency, req.Destinations, req.Dates, nights, req.Party)
}

// scaledWeights applies party scaling and renormalises. Lodging grows with
// the square root of rooms needed, activities with the square root of
// headcount-equivalents relative to a couple.
func (a *Allocator) scaledWeights(party core.Party) Weights {
	w := a.Weights
	if !w.valid() {
		w = DefaultWeights
	}

	w.Lodging *= math.Sqrt(float64(Rooms(party)))
	w.Activities *= math.Sqrt(Equivalents(party) / 2)

	s := w.sum()
	return Weights{
		Lodging:    w.Lodging / s,
		Transport:  w.Transport / s,
		Activities: w.Activities / s,
		Dining:     w.Dining / s,
		Buffer:     w.Buffer / s,
	}
}

func splitShare(share float64, w Weights) core.CostBreakdown {
	c := core.CostBreakdown{
		Lodging:    core.RoundCents(share * w.Lodging),
		Transport:  core.RoundCents(share * w.Transport),
		Activities: core.RoundCents(share * w.Activities),
		Dining:     core.RoundCents(share * w.Dining),
	}
	c.Buffer = core.RoundCents(share - c.Lodging - c.Transport - c.Activities - c.Dining)
	return c
}

// Rooms estimates hotel rooms for the party: two people per room, children
// counting half.
func Rooms(p core.Party) int {
	people := float64(p.Adults+p.Seniors) + 0.5*float64(p.Children)
	rooms := int(math.Ceil(people / 2))
	if rooms < 1 {
		return 1
	}
	return rooms
}

// Equivalents counts adults and seniors as one and children as 0.6.
func Equivalents(p core.Party) float64 {
	eq := float64(p.Adults+p.Seniors) + 0.6*float64(p.Children)
	if eq <= 0 {
		return 1
	}
	return eq
}

// EvenSplit divides total nights across n stops, earliest stops taking the remainder.
func EvenSplit(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	base, extra := total/n, total%n
	for i := range out {
		out[i] = base
		if i < extra {
			out[i]++
		}
	}
	return out
}

// ByDestination indexes allocations by destination name.
func ByDestination(allocations []core.Allocation) map[string]core.Allocation {
	out := make(map[string]core.Allocation, len(allocations))
	for _, a := range allocations {
		out[a.Destination] = a
	}
	return out
}
