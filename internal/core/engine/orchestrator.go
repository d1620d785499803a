package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/assemble"
	"github.com/tripbundle/tripbundle/internal/core/budget"
	"github.com/tripbundle/tripbundle/internal/core/synth"
	"github.com/tripbundle/tripbundle/internal/metrics"
)

const (
	defaultMaxConcurrency     = 4
	defaultDestinationTimeout = 90 * time.Second
	defaultRequestTimeout     = 3 * time.Minute
)

// Explorer gathers evidence for one destination.
type Explorer interface {
	Explore(ctx context.Context, destination string, interests []string, constraints map[string]string, dates core.Dates) *core.EvidenceBundle
}

// ExplorerFactory binds an explorer to one request's origin, domain policy
// and search credential.
type ExplorerFactory interface {
	ForRequest(origin string, allow, deny []string, creds core.Credentials) Explorer
}

// Synthesizer produces a fragment for one destination.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (*core.ItineraryFragment, error)
}

// CredentialChecker confirms an LLM call could be authenticated before any
// work is fanned out.
type CredentialChecker interface {
	CheckLLM(creds core.Credentials) error
}

// Orchestrator runs one planning request through allocation, per-destination
// exploration and synthesis, and assembly.
type Orchestrator struct {
	Allocator   *budget.Allocator
	Explorers   ExplorerFactory
	Synthesizer Synthesizer
	Assembler   *assemble.Assembler
	Credentials CredentialChecker
	Logger      core.Logger
	Clock       func() time.Time
	NewID       func() string

	MaxConcurrency     int
	DestinationTimeout time.Duration
	RequestTimeout     time.Duration
}

type outcome struct {
	idx  int
	frag *core.ItineraryFragment
	err  error
}

// Orchestrate plans req. allow and deny are merged with the request's own
// domain lists. creds live only for this call.
//
// Per-destination failures never fail the request; they come back as
// degraded fragments. A *core.FatalError is returned for an invalid request,
// a missing or rejected LLM credential, or an unreachable LLM provider.
// When the outer deadline passes, unfinished destinations are filled with
// fallbacks and the call returns without waiting for them.
func (o *Orchestrator) Orchestrate(ctx context.Context, req *core.TripRequest, allow, deny []string, creds core.Credentials) (result *core.PlanResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := o.now()
	requestID := o.newID()
	state := core.StateReceived

	ctx, span := otel.Tracer("tripbundle/engine").Start(ctx, "orchestrate",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordPlan(string(core.StateFailed), o.now().Sub(started))
		} else {
			span.SetStatus(codes.Ok, "")
			metrics.RecordPlan(string(result.State), o.now().Sub(started))
			metrics.SetBundlesReturned(result.BundleCount)
		}
		span.End()
	}()

	fail := func(cause error) error {
		o.logger().Warn("Plan failed",
			zap.String("request_id", requestID),
			zap.String("state", string(state)),
			zap.Error(cause))
		return &core.FatalError{State: state, Err: cause}
	}

	if req == nil {
		return nil, fail(fmt.Errorf("%w: request is required", core.ErrInvalidRequest))
	}
	r := *req
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, fail(err)
	}
	allow = union(r.AllowDomains, allow)
	deny = union(r.DenyDomains, deny)

	state = core.StateAllocating
	allocator := o.Allocator
	if allocator == nil {
		allocator = budget.NewAllocator()
	}
	allocs, err := allocator.AllocateRequest(&r)
	if err != nil {
		return nil, fail(err)
	}
	if o.Credentials != nil {
		if err := o.Credentials.CheckLLM(creds); err != nil {
			return nil, fail(err)
		}
	}

	o.logger().Info("Plan started",
		zap.String("request_id", requestID),
		zap.Strings("destinations", r.Destinations),
		zap.Int("nights", r.Dates.Nights()),
		zap.Object("credentials", creds))

	state = core.StateExploring
	timeout := o.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	outerCtx, cancelOuter := context.WithTimeout(ctx, timeout)
	defer cancelOuter()

	frags, fatal := o.fanOut(outerCtx, &r, allocs, allow, deny, creds)
	if fatal != nil {
		return nil, fail(fatal)
	}

	var warnings []string
	late := 0
	for i := range frags {
		if frags[i] == nil {
			frags[i] = synth.Fallback(allocs[i], core.ReasonDeadline)
			late++
		}
	}
	if late > 0 {
		warnings = append(warnings, fmt.Sprintf("planning deadline reached; %d destination(s) use budget skeletons", late))
		o.logger().Warn("Outer deadline reached", zap.String("request_id", requestID), zap.Int("unfinished", late))
	}

	state = core.StateAssembling
	fragments := make([]core.ItineraryFragment, len(frags))
	degraded := make([]string, 0)
	for i, f := range frags {
		fragments[i] = *f
		if f.Degraded {
			degraded = append(degraded, f.Destination)
			metrics.RecordDegraded(string(f.DegradedReason))
		}
	}

	asm := o.Assembler
	if asm == nil {
		asm = assemble.New(assemble.DefaultMaxBundles)
	}
	bundles := asm.ForRequest(&r).Assemble(context.WithoutCancel(ctx), fragments, r.Dates, r.Prefs.Objective)
	if len(bundles) == 0 {
		return nil, fail(core.ErrNoFragments)
	}
	if len(degraded) == len(fragments) {
		warnings = append(warnings, "no destination could be fully synthesized; bundles are budget skeletons")
	}

	state = core.StateCompleted
	result = &core.PlanResult{
		RequestID:            requestID,
		State:                state,
		Currency:             r.Currency,
		BudgetTotal:          r.BudgetTotal,
		Bundles:              bundles,
		BundleCount:          len(bundles),
		DegradedDestinations: degraded,
		Warnings:             warnings,
		GeneratedAt:          o.now(),
	}

	span.SetAttributes(
		attribute.Int("plan.bundles", result.BundleCount),
		attribute.Int("plan.degraded", len(degraded)),
	)
	o.logger().Info("Plan completed",
		zap.String("request_id", requestID),
		zap.Int("bundles", result.BundleCount),
		zap.Strings("degraded", degraded),
		zap.Duration("elapsed", o.now().Sub(started)))
	return result, nil
}

// fanOut runs one task per destination and gathers their fragments in
// request order. A nil entry means the task had not finished when ctx ended.
// The first request-fatal error cancels the remaining tasks.
func (o *Orchestrator) fanOut(ctx context.Context, req *core.TripRequest, allocs []core.Allocation, allow, deny []string, creds core.Credentials) ([]*core.ItineraryFragment, error) {
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var explorer Explorer
	if o.Explorers != nil {
		explorer = o.Explorers.ForRequest(req.Origin, allow, deny, creds)
	}

	results := make(chan outcome, len(allocs))
	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(o.maxConcurrency())
	go func() {
		for i, alloc := range allocs {
			g.Go(func() error {
				frag, err := o.runDestination(gctx, explorer, req, alloc, creds)
				results <- outcome{idx: i, frag: frag, err: err}
				return err
			})
		}
		_ = g.Wait()
	}()

	frags := make([]*core.ItineraryFragment, len(allocs))
	for received := 0; received < len(allocs); received++ {
		select {
		case res := <-results:
			if res.err != nil {
				if core.IsRequestFatal(res.err) {
					return nil, res.err
				}
				continue
			}
			frags[res.idx] = res.frag
		case <-ctx.Done():
			return frags, nil
		}
	}
	return frags, nil
}

// runDestination explores and synthesizes one destination under its own
// timeout. Only request-fatal errors and cancellation are returned.
func (o *Orchestrator) runDestination(ctx context.Context, explorer Explorer, req *core.TripRequest, alloc core.Allocation, creds core.Credentials) (frag *core.ItineraryFragment, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer("tripbundle/engine").Start(ctx, "destination",
		trace.WithAttributes(attribute.String("destination", alloc.Destination)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if frag.Degraded {
			span.SetStatus(codes.Error, string(frag.DegradedReason))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	timeout := o.DestinationTimeout
	if timeout <= 0 {
		timeout = defaultDestinationTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evidence := &core.EvidenceBundle{Destination: alloc.Destination, Insufficient: true}
	if explorer != nil {
		evidence = explorer.Explore(taskCtx, alloc.Destination, req.Interests, req.Constraints, core.Dates{Start: alloc.Start, End: alloc.End})
	}
	if taskCtx.Err() != nil {
		return o.expired(ctx, alloc)
	}

	if o.Synthesizer == nil {
		return synth.Fallback(alloc, core.ReasonLLMUnavailable), nil
	}
	frag, err = o.Synthesizer.Synthesize(taskCtx, synth.Input{
		Destination: alloc.Destination,
		Evidence:    evidence,
		Allocation:  alloc,
		Party:       req.Party,
		Constraints: req.Constraints,
		Interests:   req.Interests,
		Objective:   req.Prefs.Objective,
		Origin:      req.Origin,
		Purpose:     req.Purpose,
		Currency:    req.Currency,
		APIKey:      creds.OpenAIAPIKey,
	})
	if err != nil {
		if core.IsRequestFatal(err) {
			return nil, err
		}
		if taskCtx.Err() != nil {
			return o.expired(ctx, alloc)
		}
		o.logger().Warn("Synthesis failed", zap.String("destination", alloc.Destination), zap.Error(err))
		return synth.Fallback(alloc, core.ReasonLLMUnavailable), nil
	}
	if frag == nil {
		return synth.Fallback(alloc, core.ReasonLLMUnavailable), nil
	}
	return frag, nil
}

// expired handles a task whose context ended. A per-destination timeout is a
// degraded fragment; a cancelled parent is reported as an error so the
// collector can fill the slot.
func (o *Orchestrator) expired(parent context.Context, alloc core.Allocation) (*core.ItineraryFragment, error) {
	if err := parent.Err(); err != nil {
		return nil, err
	}
	o.logger().Warn("Destination timed out", zap.String("destination", alloc.Destination))
	return synth.Fallback(alloc, core.ReasonTimeout), nil
}

func (o *Orchestrator) maxConcurrency() int {
	if o.MaxConcurrency <= 0 {
		return defaultMaxConcurrency
	}
	return o.MaxConcurrency
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() core.Logger {
	if o.Logger == nil {
		return core.NopLogger()
	}
	return o.Logger
}

func union(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// IsFatal reports whether err is a request-fatal orchestration failure.
func IsFatal(err error) bool {
	var fatal *core.FatalError
	return errors.As(err, &fatal)
}
