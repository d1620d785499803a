package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/search"
)

type dayPayload struct {
	Day           int             `json:"day"`
	Date          string          `json:"date"`
	Title         string          `json:"title"`
	EstimatedCost float64         `json:"estimated_cost"`
	Activities    []core.Activity `json:"activities"`
}

type fragmentPayload struct {
	Days          []dayPayload `json:"days"`
	CostBreakdown *struct {
		Lodging    float64 `json:"lodging"`
		Transport  float64 `json:"transport"`
		Activities float64 `json:"activities"`
		Dining     float64 `json:"dining"`
	} `json:"cost_breakdown"`
	LongHaulFarePerPerson float64  `json:"long_haul_fare_per_person"`
	RegionalFarePerPerson float64  `json:"regional_fare_per_person"`
	InterestsCovered      []string `json:"interests_covered"`
	Confidence            float64  `json:"confidence"`
	Sources               []string `json:"sources"`
	Notes                 string   `json:"notes"`
}

// decodeFragment converts a schema-valid reply into a fragment placed on the
// allocation's dates. Day numbering and dates are always recomputed; extra
// days are dropped and missing ones padded empty. Interest tags are kept only
// when they were requested and sources only when they appear in the evidence.
func decodeFragment(raw json.RawMessage, in Input) (*core.ItineraryFragment, error) {
	var payload fragmentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode fragment: %w", err)
	}
	if payload.CostBreakdown == nil {
		return nil, errors.New("cost_breakdown is missing")
	}
	if len(payload.Days) == 0 {
		return nil, errors.New("days must not be empty")
	}

	cb := payload.CostBreakdown
	costs := core.CostBreakdown{
		Lodging:    core.RoundCents(cb.Lodging),
		Transport:  core.RoundCents(cb.Transport),
		Activities: core.RoundCents(cb.Activities),
		Dining:     core.RoundCents(cb.Dining),
	}
	for _, v := range []float64{costs.Lodging, costs.Transport, costs.Activities, costs.Dining, payload.LongHaulFarePerPerson, payload.RegionalFarePerPerson} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("amounts must be non-negative numbers")
		}
	}

	requested := make(map[string]struct{}, len(in.Interests))
	for _, tag := range in.Interests {
		requested[strings.ToLower(tag)] = struct{}{}
	}

	alloc := in.Allocation
	days := make([]core.DayPlan, alloc.Nights)
	for i := range days {
		day := core.DayPlan{
			Day:        i + 1,
			Date:       alloc.Start.AddDays(i),
			Activities: []core.Activity{},
		}
		if i < len(payload.Days) {
			src := payload.Days[i]
			day.Title = strings.TrimSpace(src.Title)
			day.EstimatedCost = core.RoundCents(math.Max(src.EstimatedCost, 0))
			for _, act := range src.Activities {
				act.Name = strings.TrimSpace(act.Name)
				if act.Name == "" {
					continue
				}
				act.EstimatedCost = core.RoundCents(math.Max(act.EstimatedCost, 0))
				act.Interests = keepRequested(act.Interests, requested)
				day.Activities = append(day.Activities, act)
			}
		}
		if day.Title == "" {
			day.Title = fmt.Sprintf("Day %d in %s", i+1, alloc.Destination)
		}
		days[i] = day
	}

	confidence := payload.Confidence
	if confidence < 0 || math.IsNaN(confidence) {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return &core.ItineraryFragment{
		Destination:           alloc.Destination,
		Start:                 alloc.Start,
		End:                   alloc.End,
		Nights:                alloc.Nights,
		Days:                  days,
		Costs:                 costs,
		LongHaulFarePerPerson: core.RoundCents(payload.LongHaulFarePerPerson),
		RegionalFarePerPerson: core.RoundCents(payload.RegionalFarePerPerson),
		InterestsCovered:      keepRequested(payload.InterestsCovered, requested),
		EvidenceSufficient:    true,
		Confidence:            confidence,
		Sources:               groundedSources(payload.Sources, in.Evidence),
		Notes:                 strings.TrimSpace(payload.Notes),
	}, nil
}

func keepRequested(tags []string, requested map[string]struct{}) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if _, ok := requested[tag]; !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func groundedSources(sources []string, evidence *core.EvidenceBundle) []string {
	if len(sources) == 0 || evidence == nil {
		return nil
	}
	known := make(map[string]string, len(evidence.Hits))
	for _, hit := range evidence.Hits {
		known[search.CanonicalURL(hit.URL)] = hit.URL
	}
	var out []string
	seen := make(map[string]struct{})
	for _, src := range sources {
		key := search.CanonicalURL(src)
		url, ok := known[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, url)
	}
	return out
}
