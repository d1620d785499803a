// Package synth turns one destination's evidence into an itinerary fragment
// through the LLM, falling back to a budget skeleton when it cannot.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tripbundle/tripbundle/internal/ailink"
	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/metrics"
)

// PromptSlug is the prompt used for fragment synthesis.
const PromptSlug = "itinerary-fragment"

// FallbackBudgetSkeleton names the deterministic plan used for degraded fragments.
const FallbackBudgetSkeleton = "budget_skeleton"

const (
	defaultMaxEvidence  = 12
	defaultSnippetChars = 400
)

// Completer runs a schema-checked JSON completion. *ailink.Service satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, req ailink.CompletionRequest) (*ailink.CompletionResponse, error)
}

// Input is everything the synthesizer needs for one destination.
type Input struct {
	Destination string
	Evidence    *core.EvidenceBundle
	Allocation  core.Allocation
	Party       core.Party
	Constraints map[string]string
	Interests   []string
	Objective   string
	Origin      string
	Purpose     string
	Currency    string

	// APIKey is the request-scoped LLM key override, if any.
	APIKey string
}

// Synthesizer calls the LLM for each destination.
// Limiter guards LLM provider quota. engine.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, endpoint string) (bool, time.Duration, error)
	Record(ctx context.Context, endpoint string) error
	Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error
}

type Synthesizer struct {
	Completer Completer
	Logger    core.Logger

	// Limiter and Endpoint meter model calls; both must be set to apply.
	Limiter  Limiter
	Endpoint string

	// Role selects the ailink routing entry; empty routes by prompt slug.
	Role         string
	Model        string
	Timeout      time.Duration
	MaxEvidence  int
	SnippetChars int
}

// New returns a synthesizer with default limits.
func New(completer Completer, logger core.Logger) *Synthesizer {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Synthesizer{
		Completer:    completer,
		Logger:       logger,
		MaxEvidence:  defaultMaxEvidence,
		SnippetChars: defaultSnippetChars,
	}
}

// Synthesize produces the fragment for in.Destination.
//
// Insufficient evidence skips the model and returns the fallback. Malformed
// output is retried once with a corrective instruction, then falls back.
// Rate limits, provider errors and timeouts also fall back. Only
// authentication and reachability failures are returned as errors, wrapping
// core.ErrLLMAuth or core.ErrLLMUnreachable.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (frag *core.ItineraryFragment, err error) {
	ctx, span := otel.Tracer("tripbundle/synth").Start(ctx, "synthesize",
		trace.WithAttributes(attribute.String("destination", in.Destination)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if frag != nil && frag.Degraded {
			span.SetAttributes(attribute.String("synth.degraded_reason", string(frag.DegradedReason)))
			span.SetStatus(codes.Error, string(frag.DegradedReason))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if in.Evidence == nil || in.Evidence.Insufficient {
		return Fallback(in.Allocation, core.ReasonInsufficientEvidence), nil
	}
	if s == nil || s.Completer == nil {
		return Fallback(in.Allocation, core.ReasonLLMUnavailable), nil
	}

	req := ailink.CompletionRequest{
		Role:       s.Role,
		PromptSlug: PromptSlug,
		Variables:  s.Variables(in),
		Model:      s.Model,
		Timeout:    s.Timeout,
		APIKey:     in.APIKey,
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if !s.admit(ctx, in.Destination) {
			metrics.RecordLLM(string(ailink.ClassRateLimit))
			return Fallback(in.Allocation, core.ReasonLLMUnavailable), nil
		}
		resp, callErr := s.Completer.CompleteJSON(ctx, req)
		s.record(ctx, callErr)
		if callErr == nil {
			parsed, parseErr := decodeFragment(resp.Raw, in)
			if parseErr == nil {
				if attempt > 1 {
					metrics.RecordLLM("repaired")
				} else {
					metrics.RecordLLM("success")
				}
				span.SetAttributes(attribute.Int("synth.attempts", attempt))
				return parsed, nil
			}
			callErr = &ailink.RawResponseError{
				Err: fmt.Errorf("%w: %v", ailink.ErrMalformedResponse, parseErr),
				Raw: resp.Raw,
			}
		}

		class := ailink.Classify(callErr)
		if class != ailink.ClassMalformed {
			return s.fail(in, class, callErr)
		}
		metrics.RecordLLM("malformed")
		s.logger().Warn("Model output rejected",
			zap.String("destination", in.Destination),
			zap.Int("attempt", attempt),
			zap.Error(callErr))
		req.Repair = &ailink.Repair{Previous: previousReply(callErr), Problem: callErr.Error()}
	}
	return Fallback(in.Allocation, core.ReasonMalformedOutput), nil
}

// admit reports whether the quota for Endpoint allows another call. Lookup
// errors let the call through.
func (s *Synthesizer) admit(ctx context.Context, destination string) bool {
	if s.Limiter == nil || s.Endpoint == "" {
		return true
	}
	allowed, wait, err := s.Limiter.Allow(ctx, s.Endpoint)
	if err != nil {
		s.logger().Warn("Rate limit lookup failed", zap.String("endpoint", s.Endpoint), zap.Error(err))
		return true
	}
	if !allowed {
		s.logger().Warn("LLM quota exhausted",
			zap.String("destination", destination),
			zap.String("endpoint", s.Endpoint),
			zap.Duration("retry_in", wait))
	}
	return allowed
}

func (s *Synthesizer) record(ctx context.Context, callErr error) {
	if s.Limiter == nil || s.Endpoint == "" {
		return
	}
	if err := s.Limiter.Record(ctx, s.Endpoint); err != nil {
		s.logger().Warn("Failed to record LLM quota", zap.String("endpoint", s.Endpoint), zap.Error(err))
	}
	if callErr != nil && ailink.Classify(callErr) == ailink.ClassRateLimit {
		if err := s.Limiter.Record429(ctx, s.Endpoint, time.Minute); err != nil {
			s.logger().Warn("Failed to record LLM backoff", zap.String("endpoint", s.Endpoint), zap.Error(err))
		}
	}
}

func (s *Synthesizer) fail(in Input, class ailink.ErrorClass, err error) (*core.ItineraryFragment, error) {
	metrics.RecordLLM(string(class))
	switch class {
	case ailink.ClassAuth:
		return nil, fmt.Errorf("%w: %v", core.ErrLLMAuth, err)
	case ailink.ClassUnreachable:
		return nil, fmt.Errorf("%w: %v", core.ErrLLMUnreachable, err)
	case ailink.ClassTimeout:
		s.logger().Warn("Synthesis timed out", zap.String("destination", in.Destination), zap.Error(err))
		return Fallback(in.Allocation, core.ReasonTimeout), nil
	default:
		s.logger().Warn("LLM provider failed",
			zap.String("destination", in.Destination),
			zap.String("class", string(class)),
			zap.Error(err))
		return Fallback(in.Allocation, core.ReasonLLMUnavailable), nil
	}
}

func previousReply(err error) string {
	var rawErr *ailink.RawResponseError
	if errors.As(err, &rawErr) && len(rawErr.Raw) > 0 {
		return string(rawErr.Raw)
	}
	return "(empty reply)"
}

// Variables renders the prompt variables for in.
func (s *Synthesizer) Variables(in Input) map[string]string {
	alloc := in.Allocation
	vars := map[string]string{
		"destination": in.Destination,
		"origin":      in.Origin,
		"start":       alloc.Start.String(),
		"end":         alloc.End.String(),
		"nights":      strconv.Itoa(alloc.Nights),
		"currency":    in.Currency,
		"budget":      formatBudget(alloc),
		"party":       formatParty(in.Party),
		"evidence":    s.formatEvidence(in.Evidence),
		"purpose":     in.Purpose,
		"interests":   strings.Join(in.Interests, ", "),
		"constraints": formatConstraints(in.Constraints),
		"objective":   in.Objective,
	}
	if vars["purpose"] == "" {
		vars["purpose"] = core.DefaultPurpose
	}
	if vars["objective"] == "" {
		vars["objective"] = "balanced"
	}
	return vars
}

func formatBudget(a core.Allocation) string {
	c := a.Categories
	return fmt.Sprintf("lodging: %.2f\ntransport: %.2f\nactivities: %.2f\ndining: %.2f\nbuffer (do not plan against): %.2f\ntotal share: %.2f",
		c.Lodging, c.Transport, c.Activities, c.Dining, c.Buffer, a.Share)
}

func formatParty(p core.Party) string {
	parts := []string{plural(p.Adults, "adult", "adults")}
	if p.Children > 0 {
		parts = append(parts, plural(p.Children, "child", "children"))
	}
	if p.Seniors > 0 {
		parts = append(parts, plural(p.Seniors, "senior", "seniors"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func formatConstraints(constraints map[string]string) string {
	if len(constraints) == 0 {
		return ""
	}
	req := core.TripRequest{Constraints: constraints}
	lines := make([]string, 0, len(constraints))
	for _, k := range req.ConstraintKeys() {
		lines = append(lines, fmt.Sprintf("%s: %s", k, constraints[k]))
	}
	return strings.Join(lines, "; ")
}

func (s *Synthesizer) formatEvidence(bundle *core.EvidenceBundle) string {
	if bundle == nil || len(bundle.Hits) == 0 {
		return "(none)"
	}
	limit := s.MaxEvidence
	if limit <= 0 {
		limit = defaultMaxEvidence
	}
	chars := s.SnippetChars
	if chars <= 0 {
		chars = defaultSnippetChars
	}

	var b strings.Builder
	for i, hit := range bundle.Hits {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n    %s\n", i+1, hit.Category, hit.Title, hit.URL)
		if len(hit.ExtractedFacts) > 0 {
			for _, fact := range hit.ExtractedFacts {
				fmt.Fprintf(&b, "    - %s\n", clip(fact, chars))
			}
		} else if hit.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", clip(hit.Snippet, chars))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

func (s *Synthesizer) logger() core.Logger {
	if s.Logger == nil {
		return core.NopLogger()
	}
	return s.Logger
}

// Fallback is the deterministic skeleton for a degraded destination: one
// empty day per night and costs taken straight from the allocation. Buffer
// stays unspent and fares are zero, so transit is absorbed by transport.
func Fallback(alloc core.Allocation, reason core.DegradationReason) *core.ItineraryFragment {
	costs := core.CostBreakdown{
		Lodging:    alloc.Categories.Lodging,
		Transport:  alloc.Categories.Transport,
		Activities: alloc.Categories.Activities,
		Dining:     alloc.Categories.Dining,
	}
	days := make([]core.DayPlan, alloc.Nights)
	perDay := 0.0
	if alloc.Nights > 0 {
		perDay = core.RoundCents((costs.Activities + costs.Dining) / float64(alloc.Nights))
	}
	for i := range days {
		days[i] = core.DayPlan{
			Day:           i + 1,
			Date:          alloc.Start.AddDays(i),
			Title:         fmt.Sprintf("Open day in %s", alloc.Destination),
			Activities:    []core.Activity{},
			EstimatedCost: perDay,
		}
	}
	return &core.ItineraryFragment{
		Destination:        alloc.Destination,
		Start:              alloc.Start,
		End:                alloc.End,
		Nights:             alloc.Nights,
		Days:               days,
		Costs:              costs,
		EvidenceSufficient: reason != core.ReasonInsufficientEvidence,
		Degraded:           true,
		DegradedReason:     reason,
		Fallback:           FallbackBudgetSkeleton,
	}
}
