// Package assemble stitches destination fragments into ranked trip bundles.
package assemble

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/budget"
)

// DefaultMaxBundles caps the number of bundles returned.
const DefaultMaxBundles = 3

// Assembler builds and ranks candidate bundles. Budget, headcount and
// interests are request-scoped; bind them with ForRequest.
type Assembler struct {
	MaxBundles int

	Budget    float64
	Headcount int
	Interests []string

	// NewID mints bundle IDs.
	NewID func() string
}

// New returns an assembler capped at maxBundles.
func New(maxBundles int) *Assembler {
	return &Assembler{MaxBundles: maxBundles}
}

// ForRequest returns a copy bound to req.
func (a *Assembler) ForRequest(req *core.TripRequest) *Assembler {
	clone := *a
	clone.Budget = req.BudgetTotal
	clone.Headcount = req.Party.Headcount()
	clone.Interests = append([]string(nil), req.Interests...)
	return &clone
}

type candidate struct {
	label     string
	order     []int
	stays     []core.Stay
	returnFee float64
	removed   []string
}

func (c candidate) signature() string {
	return fmt.Sprintf("%v|%s", c.order, strings.Join(c.removed, ","))
}

// Assemble merges fragments, given in request order, into bundles spanning
// dates and returns them best-first. Candidates are the request order, its
// reverse, and a budget-trimmed variant of any over-budget ordering. An empty
// result means fragments was empty.
func (a *Assembler) Assemble(ctx context.Context, fragments []core.ItineraryFragment, dates core.Dates, objective string) []core.Bundle {
	_, span := otel.Tracer("tripbundle/assemble").Start(ctx, "assemble")
	defer span.End()

	if len(fragments) == 0 {
		span.SetStatus(codes.Error, "no fragments")
		return []core.Bundle{}
	}

	orders := [][]int{identity(len(fragments))}
	if len(fragments) > 1 {
		orders = append(orders, reversed(len(fragments)))
	}

	var candidates []candidate
	for _, order := range orders {
		c := a.place(fragments, order, dates)
		candidates = append(candidates, c)
		if trimmed, ok := a.trim(c); ok {
			candidates = append(candidates, trimmed)
		}
	}

	objective, weights := WeightsFor(objective)
	matcher := NewInterestMatcher(a.Interests)

	seen := make(map[string]struct{}, len(candidates))
	bundles := make([]core.Bundle, 0, len(candidates))
	for _, c := range candidates {
		sig := c.signature()
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		bundles = append(bundles, a.bundle(c, objective, weights, matcher))
	}

	sort.SliceStable(bundles, func(i, j int) bool {
		if bundles[i].Score != bundles[j].Score {
			return bundles[i].Score > bundles[j].Score
		}
		return bundles[i].TotalCost < bundles[j].TotalCost
	})

	max := a.MaxBundles
	if max <= 0 {
		max = DefaultMaxBundles
	}
	if len(bundles) > max {
		bundles = bundles[:max]
	}

	span.SetAttributes(
		attribute.Int("assemble.candidates", len(candidates)),
		attribute.Int("assemble.bundles", len(bundles)),
		attribute.String("assemble.objective", objective),
	)
	span.SetStatus(codes.Ok, "")
	return bundles
}

// place lays fragments out in order from dates.Start, restamping each stay
// and its days onto the new range, and prices the transit legs.
func (a *Assembler) place(fragments []core.ItineraryFragment, order []int, dates core.Dates) candidate {
	heads := float64(a.headcount())
	names := make([]string, 0, len(order))
	stays := make([]core.Stay, 0, len(order))
	cursor := dates.Start

	for pos, idx := range order {
		frag := cloneFragment(fragments[idx])
		names = append(names, frag.Destination)

		frag.Start = cursor
		frag.End = cursor.AddDays(frag.Nights)
		for d := range frag.Days {
			frag.Days[d].Date = cursor.AddDays(d)
		}
		cursor = frag.End

		fare := frag.RegionalFarePerPerson
		if pos == 0 {
			fare = frag.LongHaulFarePerPerson
		}
		stays = append(stays, core.Stay{
			Destination: frag.Destination,
			Start:       frag.Start,
			End:         frag.End,
			Nights:      frag.Nights,
			TransitIn:   core.RoundCents(fare * heads),
			Itinerary:   frag,
		})
	}

	last := stays[len(stays)-1].Itinerary
	return candidate{
		label:     strings.Join(names, " → "),
		order:     order,
		stays:     stays,
		returnFee: core.RoundCents(last.LongHaulFarePerPerson * heads),
	}
}

type optionalRef struct {
	stay, day, act int
	cost           float64
}

// trim drops the costliest optional activities from an over-budget
// candidate until it fits or nothing optional is left.
func (a *Assembler) trim(c candidate) (candidate, bool) {
	total, overage := a.reconcile(c)
	if overage <= 0 {
		return candidate{}, false
	}

	var refs []optionalRef
	for s, stay := range c.stays {
		for d, day := range stay.Itinerary.Days {
			for i, act := range day.Activities {
				if act.Optional && act.EstimatedCost > 0 {
					refs = append(refs, optionalRef{stay: s, day: d, act: i, cost: act.EstimatedCost})
				}
			}
		}
	}
	if len(refs) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].cost > refs[j].cost })

	trimmed := candidate{label: c.label + " (trimmed)", order: c.order, returnFee: c.returnFee}
	trimmed.stays = make([]core.Stay, len(c.stays))
	for i, stay := range c.stays {
		stay.Itinerary = cloneFragment(stay.Itinerary)
		trimmed.stays[i] = stay
	}

	drop := make(map[optionalRef]struct{})
	for _, ref := range refs {
		if total <= a.Budget {
			break
		}
		key := optionalRef{stay: ref.stay, day: ref.day, act: ref.act}
		drop[key] = struct{}{}
		frag := &trimmed.stays[ref.stay].Itinerary
		act := frag.Days[ref.day].Activities[ref.act]
		frag.Costs.Activities = core.RoundCents(math.Max(frag.Costs.Activities-ref.cost, 0))
		frag.Days[ref.day].EstimatedCost = core.RoundCents(math.Max(frag.Days[ref.day].EstimatedCost-ref.cost, 0))
		trimmed.removed = append(trimmed.removed, fmt.Sprintf("%s:%d:%s", frag.Destination, ref.day+1, act.Name))
		total = core.RoundCents(total - ref.cost)
	}

	for s := range trimmed.stays {
		frag := &trimmed.stays[s].Itinerary
		for d := range frag.Days {
			kept := make([]core.Activity, 0, len(frag.Days[d].Activities))
			for i, act := range frag.Days[d].Activities {
				if _, gone := drop[optionalRef{stay: s, day: d, act: i}]; gone {
					continue
				}
				kept = append(kept, act)
			}
			frag.Days[d].Activities = kept
		}
	}
	sort.Strings(trimmed.removed)
	return trimmed, true
}

func (a *Assembler) reconcile(c candidate) (total, overage float64) {
	fragments := make([]core.ItineraryFragment, len(c.stays))
	transit := make([]float64, 0, len(c.stays)+1)
	for i, stay := range c.stays {
		fragments[i] = stay.Itinerary
		transit = append(transit, stay.TransitIn)
	}
	transit = append(transit, c.returnFee)
	return budget.Reconcile(fragments, a.Budget, transit...)
}

func (a *Assembler) bundle(c candidate, objective string, weights ScoreWeights, matcher *InterestMatcher) core.Bundle {
	total, overage := a.reconcile(c)

	var costs core.CostBreakdown
	transit := c.returnFee
	degraded := make([]string, 0)
	var degradations []core.Degradation
	covered := make(map[string]struct{})
	for _, stay := range c.stays {
		frag := stay.Itinerary
		costs = costs.Add(frag.Costs)
		transit += stay.TransitIn
		if frag.Degraded {
			degraded = append(degraded, frag.Destination)
			degradations = append(degradations, core.Degradation{
				Destination: frag.Destination,
				Reason:      frag.DegradedReason,
				Fallback:    frag.Fallback,
			})
		}
		for tag := range matcher.Covered(&frag) {
			covered[tag] = struct{}{}
		}
	}
	costs.Transit = core.RoundCents(transit)

	detail := scoreTerms(total, a.Budget, len(covered), len(matcher.Tags()), len(degraded), len(c.stays))
	detail.Objective = objective

	newID := a.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return core.Bundle{
		ID:                   newID(),
		Label:                c.label,
		Stays:                c.stays,
		ReturnTransit:        c.returnFee,
		TotalCost:            total,
		Costs:                costs,
		Score:                weights.Score(detail),
		ScoreDetail:          detail,
		OverBudget:           overage > 0,
		Overage:              overage,
		DegradedDestinations: degraded,
		Degradations:         degradations,
	}
}

func (a *Assembler) headcount() int {
	if a.Headcount < 1 {
		return 1
	}
	return a.Headcount
}

func cloneFragment(f core.ItineraryFragment) core.ItineraryFragment {
	days := make([]core.DayPlan, len(f.Days))
	for i, day := range f.Days {
		day.Activities = append([]core.Activity(nil), day.Activities...)
		days[i] = day
	}
	f.Days = days
	return f
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func reversed(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = n - 1 - i
	}
	return out
}
