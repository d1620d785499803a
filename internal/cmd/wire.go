package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tripbundle/tripbundle/internal/ailink"
	"github.com/tripbundle/tripbundle/internal/ailink/prompt"
	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/assemble"
	"github.com/tripbundle/tripbundle/internal/core/budget"
	"github.com/tripbundle/tripbundle/internal/core/engine"
	"github.com/tripbundle/tripbundle/internal/core/explorer"
	"github.com/tripbundle/tripbundle/internal/core/store"
	"github.com/tripbundle/tripbundle/internal/core/synth"
	"github.com/tripbundle/tripbundle/internal/search"
)

// planner is the fully wired orchestration stack.
type planner struct {
	Orchestrator *engine.Orchestrator
	Rates        store.RateStore
	Limiter      *engine.RateLimiter
	LLM          *engine.LLMCheck
	Search       *search.TavilyClient
}

// Close releases the rate-limit store.
func (p *planner) Close() error {
	if p == nil || p.Rates == nil {
		return nil
	}
	return p.Rates.Close()
}

// buildPlanner wires search, rate limiting, ailink and the core from cfg.
func buildPlanner(ctx context.Context, cfg *config.Config, logger core.Logger) (*planner, error) {
	if logger == nil {
		logger = core.NopLogger()
	}

	rates, err := store.OpenRateStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open rate-limit store: %w", err)
	}
	limiter := &engine.RateLimiter{Store: rates}
	limiter.ApplyOverrides(cfg.RateLimits)
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)

	tavily, err := newSearchClient(cfg.Search)
	if err != nil {
		_ = rates.Close()
		return nil, err
	}
	gateway := search.NewGateway(tavily, limiter, logger)

	pc := cfg.Planner
	base := explorer.New(gateway, logger)
	setIfPositive(&base.MaxResultsPerQuery, pc.MaxResultsPerQuery)
	setIfPositive(&base.MaxEvidence, pc.MaxEvidence)
	setIfPositive(&base.MaxInterestQueries, pc.MaxInterestQueries)
	setIfPositive(&base.MinEvidence, pc.MinEvidence)

	prompts, err := prompt.RegistryWithOverrides(cfg.AILink.PromptsDir)
	if err != nil {
		_ = rates.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	service := &ailink.Service{Providers: ailink.NewRegistry(cfg.AILink), Registry: prompts}

	synthesizer := synth.New(service, logger)
	synthesizer.Role = pc.Role
	synthesizer.Model = pc.Model
	synthesizer.Timeout = cfg.AILink.DefaultTimeout
	synthesizer.Limiter = limiter
	synthesizer.Endpoint = service.Providers.Endpoint(synthRole(pc.Role))
	setIfPositive(&synthesizer.MaxEvidence, pc.MaxEvidence)
	setIfPositive(&synthesizer.SnippetChars, pc.SnippetChars)

	llm := &engine.LLMCheck{Service: service, Role: pc.Role}
	orchestrator := &engine.Orchestrator{
		Allocator:          budget.NewAllocator(),
		Explorers:          &engine.SearchExplorers{Base: base, Gateway: gateway, Tavily: tavily},
		Synthesizer:        synthesizer,
		Assembler:          assemble.New(pc.MaxBundles),
		Credentials:        llm,
		Logger:             logger,
		NewID:              uuid.NewString,
		MaxConcurrency:     pc.MaxConcurrency,
		DestinationTimeout: pc.DestinationTimeout,
		RequestTimeout:     pc.RequestTimeout,
	}

	return &planner{
		Orchestrator: orchestrator,
		Rates:        rates,
		Limiter:      limiter,
		LLM:          llm,
		Search:       tavily,
	}, nil
}

func newSearchClient(cfg config.SearchConfig) (*search.TavilyClient, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "", "tavily":
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}
	client := search.NewTavilyClient(cfg.BaseURL, cfg.APIKey)
	if depth := strings.TrimSpace(cfg.SearchDepth); depth != "" {
		client.SearchDepth = depth
	}
	client.Timeout = cfg.Timeout
	client.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return client, nil
}

// plannerInfo describes the default LLM route without exposing keys.
func plannerInfo(cfg *config.Config, llm *engine.LLMCheck) (provider, model string, llmReady bool) {
	provider = strings.TrimSpace(cfg.AILink.DefaultProvider)
	if llm == nil || llm.Service == nil {
		return provider, cfg.Planner.Model, false
	}
	status, err := llm.Service.Preflight(llm.Role, synth.PromptSlug, "")
	if status.ProviderID != "" {
		provider = status.ProviderID
	}
	model = status.Model
	if cfg.Planner.Model != "" {
		model = cfg.Planner.Model
	}
	return provider, model, err == nil
}

// synthRole is the routing role fragment synthesis resolves with.
func synthRole(role string) string {
	if strings.TrimSpace(role) == "" {
		return synth.PromptSlug
	}
	return role
}

func setIfPositive(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}
