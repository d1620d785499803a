package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/currency"
)

// DefaultPurpose is used when a request does not state why the party travels.
const DefaultPurpose = "leisure"

// TripRequest is the validated multi-destination planning request.
type TripRequest struct {
	Origin       string            `json:"origin"`
	Purpose      string            `json:"purpose"`
	BudgetTotal  float64           `json:"budget_total"`
	Currency     string            `json:"currency"`
	Dates        Dates             `json:"dates"`
	Party        Party             `json:"party"`
	Constraints  map[string]string `json:"constraints,omitempty"`
	Interests    []string          `json:"interests,omitempty"`
	Destinations []string          `json:"destinations"`
	Stays        map[string]int    `json:"stays,omitempty"`
	Prefs        Prefs             `json:"prefs"`
	AllowDomains []string          `json:"allow_domains,omitempty"`
	DenyDomains  []string          `json:"deny_domains,omitempty"`
}

// Normalize trims free text, applies defaults and deduplicates interest tags.
func (r *TripRequest) Normalize() {
	if r == nil {
		return
	}
	r.Origin = strings.TrimSpace(r.Origin)
	r.Purpose = strings.TrimSpace(r.Purpose)
	if r.Purpose == "" {
		r.Purpose = DefaultPurpose
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Prefs.Objective = strings.ToLower(strings.TrimSpace(r.Prefs.Objective))

	destinations := make([]string, 0, len(r.Destinations))
	for _, d := range r.Destinations {
		if d = strings.TrimSpace(d); d != "" {
			destinations = append(destinations, d)
		}
	}
	r.Destinations = destinations

	seen := make(map[string]struct{}, len(r.Interests))
	interests := make([]string, 0, len(r.Interests))
	for _, tag := range r.Interests {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		interests = append(interests, tag)
	}
	r.Interests = interests
}

// Validate checks the request contract and returns an ErrInvalidRequest-wrapped
// error listing every violation.
func (r *TripRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}

	var problems []string
	if strings.TrimSpace(r.Origin) == "" {
		problems = append(problems, "origin is required")
	}
	if math.IsNaN(r.BudgetTotal) || math.IsInf(r.BudgetTotal, 0) || r.BudgetTotal <= 0 {
		problems = append(problems, "budget_total must be a positive amount")
	}
	if _, err := currency.ParseISO(r.Currency); err != nil {
		problems = append(problems, fmt.Sprintf("currency %q is not an ISO 4217 code", r.Currency))
	}
	if r.Dates.Start.IsZero() || r.Dates.End.IsZero() {
		problems = append(problems, "dates.start and dates.end are required")
	} else if !r.Dates.Start.Before(r.Dates.End) {
		problems = append(problems, "dates.start must be before dates.end")
	}
	if r.Party.Adults < 1 {
		problems = append(problems, "party must include at least one adult")
	}
	if r.Party.Children < 0 || r.Party.Seniors < 0 {
		problems = append(problems, "party counts must be non-negative")
	}
	if len(r.Destinations) == 0 {
		problems = append(problems, "destinations must not be empty")
	}

	seen := make(map[string]struct{}, len(r.Destinations))
	for _, d := range r.Destinations {
		key := strings.ToLower(d)
		if _, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf("destination %q is listed twice", d))
		}
		seen[key] = struct{}{}
	}

	if len(problems) == 0 {
		if nights := r.Dates.Nights(); nights < len(r.Destinations) {
			problems = append(problems, fmt.Sprintf("%d nights cannot cover %d destinations", nights, len(r.Destinations)))
		} else if _, err := r.StayNights(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// StayNights returns nights per destination in request order. Without explicit
// stays the range is split evenly, remainder nights going to the earliest stops.
func (r *TripRequest) StayNights() ([]int, error) {
	total := r.Dates.Nights()
	n := len(r.Destinations)
	if n == 0 {
		return nil, nil
	}

	nights := make([]int, n)
	if len(r.Stays) == 0 {
		base, extra := total/n, total%n
		for i := range nights {
			nights[i] = base
			if i < extra {
				nights[i]++
			}
		}
		return nights, nil
	}

	lookup := make(map[string]int, len(r.Stays))
	for name, value := range r.Stays {
		lookup[strings.ToLower(strings.TrimSpace(name))] = value
	}
	sum := 0
	for i, d := range r.Destinations {
		value, ok := lookup[strings.ToLower(d)]
		if !ok {
			return nil, fmt.Errorf("stays is missing destination %q", d)
		}
		if value < 1 {
			return nil, fmt.Errorf("stay for %q must be at least one night", d)
		}
		nights[i] = value
		sum += value
	}
	if len(lookup) != n {
		return nil, fmt.Errorf("stays names destinations that are not in the request")
	}
	if sum != total {
		return nil, fmt.Errorf("stays sum to %d nights but the date range has %d", sum, total)
	}
	return nights, nil
}

// ConstraintKeys returns constraint names in stable order.
func (r *TripRequest) ConstraintKeys() []string {
	keys := make([]string, 0, len(r.Constraints))
	for k := range r.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
