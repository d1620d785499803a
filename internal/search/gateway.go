// Package search wraps the web-search provider and enforces caller domain
// policy on every result before it can become evidence.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/metrics"
)

const (
	defaultOverfetch = 2
	maxProviderFetch = 20
	defaultMaxFacts  = 3
)

// RawResult is an unfiltered provider result.
type RawResult struct {
	URL        string
	Title      string
	Content    string
	RawContent string
	Score      float64
}

// Provider is a web-search backend.
type Provider interface {
	Name() string
	Endpoint() string
	Search(ctx context.Context, query string, maxResults int) ([]RawResult, error)
}

// Checker is implemented by providers that can tell, without a network call,
// that a search would be refused (for example a missing API key).
type Checker interface {
	Ready() error
}

// Limiter guards provider quota. engine.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, endpoint string) (bool, time.Duration, error)
	Record(ctx context.Context, endpoint string) error
	Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error
}

// ProviderError is returned when the provider answers with a non-2xx status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "search provider error"
	}
	return fmt.Sprintf("%s search failed: status %d: %s", e.Provider, e.StatusCode, truncate(e.Message, 200))
}

// Gateway runs queries against a Provider and filters the results by domain.
// It keeps no state between calls beyond what the Limiter stores.
type Gateway struct {
	Provider  Provider
	Limiter   Limiter
	Logger    core.Logger
	Clock     func() time.Time
	Overfetch int
	MaxFacts  int
}

// NewGateway returns a gateway with defaults applied.
func NewGateway(provider Provider, limiter Limiter, logger core.Logger) *Gateway {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Gateway{
		Provider:  provider,
		Limiter:   limiter,
		Logger:    logger,
		Overfetch: defaultOverfetch,
		MaxFacts:  defaultMaxFacts,
	}
}

// WithProvider returns a shallow copy that searches through provider.
func (g *Gateway) WithProvider(provider Provider) *Gateway {
	clone := *g
	clone.Provider = provider
	return &clone
}

// Search returns at most maxResults hits whose domains satisfy allow and deny.
// A provider failure or exhausted quota yields core.ErrSearchUnavailable; a
// result set emptied by filtering is returned as an empty slice.
func (g *Gateway) Search(ctx context.Context, query string, allow, deny []string, maxResults int) (hits []core.SearchHit, err error) {
	if g == nil || g.Provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", core.ErrSearchUnavailable)
	}
	if maxResults <= 0 {
		return []core.SearchHit{}, nil
	}

	ctx, span := otel.Tracer("tripbundle/search").Start(ctx, "search",
		trace.WithAttributes(
			attribute.String("search.provider", g.Provider.Name()),
			attribute.Int("search.max_results", maxResults),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordSearch("unavailable")
		} else {
			span.SetAttributes(attribute.Int("search.hits", len(hits)))
			span.SetStatus(codes.Ok, "")
			if len(hits) == 0 {
				metrics.RecordSearch("empty")
			} else {
				metrics.RecordSearch("ok")
			}
		}
		span.End()
	}()

	if checker, ok := g.Provider.(Checker); ok {
		if err := checker.Ready(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrSearchUnavailable, err)
		}
	}

	endpoint := g.Provider.Endpoint()
	if g.Limiter != nil {
		allowed, wait, limErr := g.Limiter.Allow(ctx, endpoint)
		if limErr != nil {
			g.logger().Warn("Rate limit lookup failed", zap.String("endpoint", endpoint), zap.Error(limErr))
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s rate limited for %s", core.ErrSearchUnavailable, endpoint, wait.Round(time.Second))
		}
	}

	fetch := maxResults * g.overfetch()
	if fetch > maxProviderFetch {
		fetch = maxProviderFetch
	}
	if fetch < maxResults {
		fetch = maxResults
	}

	raw, err := g.Provider.Search(ctx, query, fetch)
	g.record(ctx, endpoint, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSearchUnavailable, err)
	}

	filter := NewDomainFilter(allow, deny)
	retrievedAt := g.now()
	seen := make(map[string]struct{}, len(raw))
	hits = make([]core.SearchHit, 0, maxResults)
	for _, r := range raw {
		host := HostFromURL(r.URL)
		if host == "" || !filter.Permits(host) {
			continue
		}
		key := CanonicalURL(r.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		content := r.Content
		if strings.TrimSpace(content) == "" {
			content = r.RawContent
		}
		hits = append(hits, core.SearchHit{
			SourceDomain:   host,
			URL:            strings.TrimSpace(r.URL),
			Title:          StripHTML(r.Title),
			Snippet:        truncate(StripHTML(content), 500),
			ExtractedFacts: ExtractFacts(content, g.maxFacts()),
			Score:          r.Score,
			RetrievedAt:    retrievedAt,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	g.logger().Debug("Search completed",
		zap.String("provider", g.Provider.Name()),
		zap.Int("fetched", len(raw)),
		zap.Int("kept", len(hits)),
		zap.Bool("filtered", !filter.Empty()))
	return hits, nil
}

func (g *Gateway) record(ctx context.Context, endpoint string, callErr error) {
	if g.Limiter == nil {
		return
	}
	if err := g.Limiter.Record(ctx, endpoint); err != nil {
		g.logger().Warn("Failed to record search quota", zap.String("endpoint", endpoint), zap.Error(err))
	}
	var perr *ProviderError
	if errors.As(callErr, &perr) && perr.StatusCode == 429 {
		retry := perr.RetryAfter
		if retry <= 0 {
			retry = time.Minute
		}
		if err := g.Limiter.Record429(ctx, endpoint, retry); err != nil {
			g.logger().Warn("Failed to record search backoff", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}

func (g *Gateway) logger() core.Logger {
	if g.Logger == nil {
		return core.NopLogger()
	}
	return g.Logger
}

func (g *Gateway) overfetch() int {
	if g.Overfetch < 1 {
		return defaultOverfetch
	}
	return g.Overfetch
}

func (g *Gateway) maxFacts() int {
	if g.MaxFacts <= 0 {
		return defaultMaxFacts
	}
	return g.MaxFacts
}

func (g *Gateway) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

// CanonicalURL strips fragments and trailing slashes. It is the key used to
// deduplicate evidence across queries.
func CanonicalURL(raw string) string {
	value := strings.TrimSpace(raw)
	if idx := strings.Index(value, "#"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimRight(value, "/"))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
