package core

import (
	"math"
	"time"
)

// PlanState is a step in the per-request orchestration state machine.
type PlanState string

const (
	StateReceived   PlanState = "received"
	StateAllocating PlanState = "allocating"
	StateExploring  PlanState = "exploring_synthesizing"
	StateAssembling PlanState = "assembling"
	StateCompleted  PlanState = "completed"
	StateFailed     PlanState = "failed"
)

// DegradationReason explains why a fragment fell back to the budget skeleton.
type DegradationReason string

const (
	ReasonNone                 DegradationReason = ""
	ReasonInsufficientEvidence DegradationReason = "insufficient_evidence"
	ReasonMalformedOutput      DegradationReason = "malformed_output"
	ReasonTimeout              DegradationReason = "timeout"
	ReasonLLMUnavailable       DegradationReason = "llm_unavailable"
	ReasonDeadline             DegradationReason = "deadline"
)

// Party describes who is travelling.
type Party struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Seniors  int `json:"seniors"`
}

// Headcount returns the number of travellers.
func (p Party) Headcount() int {
	return p.Adults + p.Children + p.Seniors
}

// Prefs carries ranking hints.
type Prefs struct {
	Objective string `json:"objective,omitempty"`
}

// SearchHit is one filtered result from the web-search provider.
type SearchHit struct {
	SourceDomain   string    `json:"source_domain"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet,omitempty"`
	ExtractedFacts []string  `json:"extracted_facts,omitempty"`
	Score          float64   `json:"score,omitempty"`
	Category       string    `json:"category,omitempty"`
	RetrievedAt    time.Time `json:"retrieved_at"`
}

// QueryOutcome records how a single explorer query went.
type QueryOutcome struct {
	Category string `json:"category"`
	Query    string `json:"query"`
	Hits     int    `json:"hits"`
	Error    string `json:"error,omitempty"`
}

// EvidenceBundle is the compact search evidence gathered for one destination.
type EvidenceBundle struct {
	Destination  string         `json:"destination"`
	Hits         []SearchHit    `json:"hits"`
	Queries      []QueryOutcome `json:"queries,omitempty"`
	Insufficient bool           `json:"insufficient"`
}

// CostBreakdown splits an amount by spending category. Transit is only used at
// bundle level and Buffer only in allocations.
type CostBreakdown struct {
	Lodging    float64 `json:"lodging"`
	Transport  float64 `json:"transport"`
	Activities float64 `json:"activities"`
	Dining     float64 `json:"dining"`
	Transit    float64 `json:"transit,omitempty"`
	Buffer     float64 `json:"buffer,omitempty"`
}

// Total sums every category.
func (c CostBreakdown) Total() float64 {
	return RoundCents(c.Lodging + c.Transport + c.Activities + c.Dining + c.Transit + c.Buffer)
}

// Add returns the category-wise sum.
func (c CostBreakdown) Add(other CostBreakdown) CostBreakdown {
	return CostBreakdown{
		Lodging:    RoundCents(c.Lodging + other.Lodging),
		Transport:  RoundCents(c.Transport + other.Transport),
		Activities: RoundCents(c.Activities + other.Activities),
		Dining:     RoundCents(c.Dining + other.Dining),
		Transit:    RoundCents(c.Transit + other.Transit),
		Buffer:     RoundCents(c.Buffer + other.Buffer),
	}
}

// Allocation is the budget share computed for one destination before synthesis.
type Allocation struct {
	Destination string        `json:"destination"`
	Nights      int           `json:"nights"`
	Start       Date          `json:"start"`
	End         Date          `json:"end"`
	Share       float64       `json:"share"`
	Categories  CostBreakdown `json:"categories"`
}

// Activity is a single planned item within a day.
type Activity struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	EstimatedCost float64  `json:"estimated_cost"`
	Interests     []string `json:"interests,omitempty"`
	Optional      bool     `json:"optional,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
}

// DayPlan is one day of a destination stay.
type DayPlan struct {
	Day           int        `json:"day"`
	Date          Date       `json:"date"`
	Title         string     `json:"title"`
	Activities    []Activity `json:"activities"`
	EstimatedCost float64    `json:"estimated_cost"`
}

// ItineraryFragment is the synthesized plan for one destination.
type ItineraryFragment struct {
	Destination           string            `json:"destination"`
	Start                 Date              `json:"start"`
	End                   Date              `json:"end"`
	Nights                int               `json:"nights"`
	Days                  []DayPlan         `json:"days"`
	Costs                 CostBreakdown     `json:"costs"`
	LongHaulFarePerPerson float64           `json:"long_haul_fare_per_person"`
	RegionalFarePerPerson float64           `json:"regional_fare_per_person"`
	InterestsCovered      []string          `json:"interests_covered,omitempty"`
	EvidenceSufficient    bool              `json:"evidence_sufficient"`
	Confidence            float64           `json:"confidence"`
	Degraded              bool              `json:"degraded"`
	DegradedReason        DegradationReason `json:"degraded_reason,omitempty"`
	Fallback              string            `json:"fallback,omitempty"`
	Sources               []string          `json:"sources,omitempty"`
	Notes                 string            `json:"notes,omitempty"`
}

// Total returns the fragment's own spend, excluding inter-destination transit.
func (f *ItineraryFragment) Total() float64 {
	if f == nil {
		return 0
	}
	return f.Costs.Total()
}

// Stay places a fragment onto the bundle timeline.
type Stay struct {
	Destination string            `json:"destination"`
	Start       Date              `json:"start"`
	End         Date              `json:"end"`
	Nights      int               `json:"nights"`
	TransitIn   float64           `json:"transit_in"`
	Itinerary   ItineraryFragment `json:"itinerary"`
}

// Degradation names a degraded destination and the fallback used for it.
type Degradation struct {
	Destination string            `json:"destination"`
	Reason      DegradationReason `json:"reason"`
	Fallback    string            `json:"fallback"`
}

// ScoreDetail exposes the weighted terms behind a bundle score.
type ScoreDetail struct {
	Objective        string  `json:"objective"`
	BudgetFit        float64 `json:"budget_fit"`
	InterestCoverage float64 `json:"interest_coverage"`
	Reliability      float64 `json:"reliability"`
}

// Bundle is one complete candidate trip.
type Bundle struct {
	ID                   string        `json:"id"`
	Label                string        `json:"label"`
	Stays                []Stay        `json:"stays"`
	ReturnTransit        float64       `json:"return_transit"`
	TotalCost            float64       `json:"total_cost"`
	Costs                CostBreakdown `json:"costs"`
	Score                float64       `json:"score"`
	ScoreDetail          ScoreDetail   `json:"score_detail"`
	OverBudget           bool          `json:"over_budget"`
	Overage              float64       `json:"overage"`
	DegradedDestinations []string      `json:"degraded_destinations"`
	Degradations         []Degradation `json:"degradations,omitempty"`
}

// DestinationOrder returns the destinations in visiting order.
func (b *Bundle) DestinationOrder() []string {
	order := make([]string, 0, len(b.Stays))
	for _, stay := range b.Stays {
		order = append(order, stay.Destination)
	}
	return order
}

// PlanResult is the orchestration output handed back to transport layers.
type PlanResult struct {
	RequestID            string    `json:"request_id"`
	State                PlanState `json:"state"`
	Currency             string    `json:"currency"`
	BudgetTotal          float64   `json:"budget_total"`
	Bundles              []Bundle  `json:"bundles"`
	BundleCount          int       `json:"bundle_count"`
	DegradedDestinations []string  `json:"degraded_destinations"`
	Warnings             []string  `json:"warnings,omitempty"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
