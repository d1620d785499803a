// Package explorer gathers compact search evidence for one destination.
package explorer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/search"
)

// Query categories.
const (
	CategoryLodging   = "lodging"
	CategoryTransport = "transport"
	CategoryTransit   = "transit"
	CategoryDining    = "dining"
	CategoryActivity  = "activities"
	CategoryVisa      = "visa"
)

const (
	defaultMaxResultsPerQuery = 5
	defaultMaxEvidence        = 12
	defaultMaxInterestQueries = 4
	defaultMinEvidence        = 1
	defaultConcurrency        = 4
)

// Searcher runs one filtered web search. search.Gateway satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, allow, deny []string, maxResults int) ([]core.SearchHit, error)
}

// Explorer issues a fixed, small set of category queries per destination.
// Origin and the domain lists are request-scoped; use WithScope to bind them.
type Explorer struct {
	Searcher Searcher
	Logger   core.Logger

	Origin string
	Allow  []string
	Deny   []string

	MaxResultsPerQuery int
	MaxEvidence        int
	MaxInterestQueries int
	MinEvidence        int
	Concurrency        int
}

// New returns an explorer with defaults applied.
func New(searcher Searcher, logger core.Logger) *Explorer {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Explorer{
		Searcher:           searcher,
		Logger:             logger,
		MaxResultsPerQuery: defaultMaxResultsPerQuery,
		MaxEvidence:        defaultMaxEvidence,
		MaxInterestQueries: defaultMaxInterestQueries,
		MinEvidence:        defaultMinEvidence,
		Concurrency:        defaultConcurrency,
	}
}

// WithScope returns a copy bound to one request's origin and domain lists.
func (e *Explorer) WithScope(origin string, allow, deny []string) *Explorer {
	clone := *e
	clone.Origin = origin
	clone.Allow = append([]string(nil), allow...)
	clone.Deny = append([]string(nil), deny...)
	return &clone
}

// WithSearcher returns a copy that searches through s.
func (e *Explorer) WithSearcher(s Searcher) *Explorer {
	clone := *e
	clone.Searcher = s
	return &clone
}

// Query is one planned search.
type Query struct {
	Category string
	Text     string
}

// Explore gathers evidence for destination. Search failures never surface
// as errors: when every query fails, or too little survives filtering, the
// bundle comes back flagged Insufficient.
func (e *Explorer) Explore(ctx context.Context, destination string, interests []string, constraints map[string]string, dates core.Dates) *core.EvidenceBundle {
	ctx, span := otel.Tracer("tripbundle/explorer").Start(ctx, "explore",
		trace.WithAttributes(attribute.String("destination", destination)))
	defer span.End()

	queries := e.Plan(destination, interests, constraints, dates)
	results := make([][]core.SearchHit, len(queries))
	outcomes := make([]core.QueryOutcome, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i, q := range queries {
		g.Go(func() error {
			outcomes[i] = core.QueryOutcome{Category: q.Category, Query: q.Text}
			if e.Searcher == nil {
				outcomes[i].Error = "no search provider configured"
				return nil
			}
			hits, err := e.Searcher.Search(gctx, q.Text, e.Allow, e.Deny, e.maxResultsPerQuery())
			if err != nil {
				outcomes[i].Error = err.Error()
				return nil
			}
			for j := range hits {
				hits[j].Category = q.Category
			}
			results[i] = hits
			outcomes[i].Hits = len(hits)
			return nil
		})
	}
	_ = g.Wait()

	bundle := &core.EvidenceBundle{
		Destination: destination,
		Hits:        interleave(results, e.maxEvidence()),
		Queries:     outcomes,
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	bundle.Insufficient = failed == len(outcomes) || len(bundle.Hits) < e.minEvidence()

	span.SetAttributes(
		attribute.Int("explore.queries", len(queries)),
		attribute.Int("explore.failed", failed),
		attribute.Int("explore.hits", len(bundle.Hits)),
		attribute.Bool("explore.insufficient", bundle.Insufficient),
	)
	if bundle.Insufficient {
		span.SetStatus(codes.Error, "insufficient evidence")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	e.logger().Debug("Destination explored",
		zap.String("destination", destination),
		zap.Int("queries", len(queries)),
		zap.Int("failed", failed),
		zap.Int("hits", len(bundle.Hits)),
		zap.Bool("insufficient", bundle.Insufficient))
	return bundle
}

// Plan builds the query set for a destination: lodging, local transport,
// dining, the long-haul leg when an origin is known, one query per interest
// up to MaxInterestQueries (or a general attractions query), and an entry
// requirements query when a constraint mentions visas or passports.
func (e *Explorer) Plan(destination string, interests []string, constraints map[string]string, dates core.Dates) []Query {
	when := ""
	if !dates.Start.IsZero() {
		when = " " + dates.Start.Time().Format("January 2006")
	}

	queries := []Query{
		{CategoryLodging, fmt.Sprintf("%s hotels price per night%s", destination, when)},
		{CategoryTransport, fmt.Sprintf("%s public transport day pass price", destination)},
		{CategoryDining, diningQuery(destination, constraints)},
	}
	if origin := strings.TrimSpace(e.Origin); origin != "" {
		queries = append(queries, Query{CategoryTransit, fmt.Sprintf("flights %s to %s%s price", origin, destination, when)})
	}

	limit := e.maxInterestQueries()
	added := 0
	for _, interest := range interests {
		interest = strings.TrimSpace(interest)
		if interest == "" {
			continue
		}
		if added == limit {
			break
		}
		queries = append(queries, Query{CategoryActivity, fmt.Sprintf("%s %s tickets opening hours", destination, interest)})
		added++
	}
	if added == 0 {
		queries = append(queries, Query{CategoryActivity, fmt.Sprintf("%s top attractions tickets prices", destination)})
	}

	if detail, ok := entryConstraint(constraints); ok {
		q := fmt.Sprintf("%s visa entry requirements", destination)
		if detail != "" {
			q += " " + detail
		}
		queries = append(queries, Query{CategoryVisa, q})
	}
	return queries
}

var entryKeywords = []string{"visa", "passport", "entry", "citizenship", "nationality"}

// entryConstraint reports whether any constraint concerns entry rules and
// returns the first such value as extra query context.
func entryConstraint(constraints map[string]string) (string, bool) {
	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text := strings.ToLower(k + " " + constraints[k])
		for _, kw := range entryKeywords {
			if strings.Contains(text, kw) {
				value := strings.TrimSpace(constraints[k])
				if strings.EqualFold(value, "true") || strings.EqualFold(value, "yes") {
					value = ""
				}
				return value, true
			}
		}
	}
	return "", false
}

func diningQuery(destination string, constraints map[string]string) string {
	for _, key := range []string{"dietary", "diet", "food"} {
		if value := strings.TrimSpace(constraints[key]); value != "" {
			return fmt.Sprintf("%s %s restaurants average meal price", destination, value)
		}
	}
	return fmt.Sprintf("%s restaurants average meal price", destination)
}

// interleave merges per-query hits round-robin so every category is
// represented before any one dominates, dropping URLs already taken.
func interleave(results [][]core.SearchHit, max int) []core.SearchHit {
	out := make([]core.SearchHit, 0, max)
	seen := make(map[string]struct{})
	for round := 0; len(out) < max; round++ {
		progressed := false
		for _, hits := range results {
			if round >= len(hits) {
				continue
			}
			progressed = true
			hit := hits[round]
			key := search.CanonicalURL(hit.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, hit)
			if len(out) == max {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

func (e *Explorer) logger() core.Logger {
	if e.Logger == nil {
		return core.NopLogger()
	}
	return e.Logger
}

func (e *Explorer) concurrency() int {
	if e.Concurrency <= 0 {
		return defaultConcurrency
	}
	return e.Concurrency
}

func (e *Explorer) maxResultsPerQuery() int {
	if e.MaxResultsPerQuery <= 0 {
		return defaultMaxResultsPerQuery
	}
	return e.MaxResultsPerQuery
}

func (e *Explorer) maxEvidence() int {
	if e.MaxEvidence <= 0 {
		return defaultMaxEvidence
	}
	return e.MaxEvidence
}

func (e *Explorer) maxInterestQueries() int {
	if e.MaxInterestQueries <= 0 {
		return defaultMaxInterestQueries
	}
	return e.MaxInterestQueries
}

func (e *Explorer) minEvidence() int {
	if e.MinEvidence <= 0 {
		return defaultMinEvidence
	}
	return e.MinEvidence
}
