package ailink

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tripbundle/tripbundle/internal/ailink/driver"
	"github.com/tripbundle/tripbundle/internal/ailink/driver/gemini"
	"github.com/tripbundle/tripbundle/internal/ailink/driver/openai"
	"github.com/tripbundle/tripbundle/internal/ailink/prompt"
)

// ErrNoCredential is returned when the routed provider has no usable API key
// and the caller supplied no override.
var ErrNoCredential = errors.New("no llm credential configured")

// Registry routes a role to a provider instance and hands out drivers for it.
// Drivers built from configured keys are cached per credential; drivers built
// from a caller-supplied key never are.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	cursors map[string]int

	// newDriver builds drivers; tests replace it.
	newDriver func(providerCfg ProviderInstanceConfig, apiKey string) (driver.Driver, error)
}

type ResolvedProvider struct {
	ProviderID string
	Provider   ProviderInstanceConfig
	Driver     driver.Driver
	Model      string
	// Override is true when the driver was built for a request-scoped key.
	Override bool
}

// ProviderStatus describes the routing outcome without exposing keys.
type ProviderStatus struct {
	ProviderID    string
	AIProvider    string
	Model         string
	HasCredential bool
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

func (r *Registry) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.cfg
}

// Resolve picks the provider, credential, driver and model for role. apiKey
// is a request-scoped OpenAI key; it is used only when role routes to an
// openai provider and is ignored otherwise.
func (r *Registry) Resolve(role string, promptDef *prompt.Prompt, modelOverride, apiKey string) (*ResolvedProvider, error) {
	id, pc, err := r.route(role)
	if err != nil {
		return nil, err
	}
	model, err := resolveModel(pc, promptDef, modelOverride)
	if err != nil {
		return nil, err
	}
	out := &ResolvedProvider{ProviderID: id, Provider: pc, Model: model}

	if key := strings.TrimSpace(apiKey); key != "" && AcceptsRequestKey(pc) {
		if out.Driver, err = r.build(pc, key); err != nil {
			return nil, fmt.Errorf("provider %q: %w", id, err)
		}
		out.Override = true
		return out, nil
	}

	cred, slot, err := r.pickCredential(id, pc, true)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", id, err)
	}
	if out.Driver, err = r.cached(id+":"+slot, pc, cred.APIKey); err != nil {
		return nil, fmt.Errorf("provider %q: %w", id, err)
	}
	return out, nil
}

// Inspect reports how role would be routed.
func (r *Registry) Inspect(role string, promptDef *prompt.Prompt) (ProviderStatus, error) {
	id, pc, err := r.route(role)
	if err != nil {
		return ProviderStatus{}, err
	}
	status := ProviderStatus{ProviderID: id, AIProvider: pc.AIProvider}
	status.Model, _ = resolveModel(pc, promptDef, "")
	_, _, credErr := r.pickCredential(id, pc, false)
	status.HasCredential = credErr == nil
	return status, nil
}

// defaultEndpoints are the API hosts of the supported drivers, matching the
// rate-limit endpoint keys.
var defaultEndpoints = map[string]string{
	"openai": "api.openai.com",
	"gemini": "generativelanguage.googleapis.com",
}

// Endpoint returns the API host role is routed to: the provider's base_url
// host when set, else the driver's default host. Empty when role does not
// route.
func (r *Registry) Endpoint(role string) string {
	_, pc, err := r.route(role)
	if err != nil {
		return ""
	}
	if base := strings.TrimSpace(pc.BaseURL); base != "" {
		if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return defaultEndpoints[strings.ToLower(strings.TrimSpace(pc.AIProvider))]
}

// route resolves role in order: explicit routing entry, the first enabled
// provider (by id) listing the role, the default provider, and finally the
// only enabled provider.
func (r *Registry) route(role string) (string, ProviderInstanceConfig, error) {
	if r == nil {
		return "", ProviderInstanceConfig{}, errors.New("ailink registry not configured")
	}
	role = strings.TrimSpace(role)

	if id := strings.TrimSpace(r.cfg.Routing[role]); role != "" && id != "" {
		return r.enabledProvider(id, fmt.Sprintf("for role %q", role))
	}

	enabled := r.enabledIDs()
	if role != "" {
		for _, id := range enabled {
			if hasRole(r.cfg.Providers[id].Roles, role) {
				return id, r.cfg.Providers[id], nil
			}
		}
	}

	if id := strings.TrimSpace(r.cfg.DefaultProvider); id != "" {
		return r.enabledProvider(id, "(default)")
	}

	switch len(enabled) {
	case 0:
		return "", ProviderInstanceConfig{}, errors.New("no enabled providers configured")
	case 1:
		return enabled[0], r.cfg.Providers[enabled[0]], nil
	default:
		return "", ProviderInstanceConfig{}, errors.New("no provider routing configured")
	}
}

func (r *Registry) enabledProvider(id, where string) (string, ProviderInstanceConfig, error) {
	pc, ok := r.cfg.Providers[id]
	switch {
	case !ok:
		return "", ProviderInstanceConfig{}, fmt.Errorf("provider %q %s not configured", id, where)
	case !pc.Enabled:
		return "", ProviderInstanceConfig{}, fmt.Errorf("provider %q %s is disabled", id, where)
	}
	return id, pc, nil
}

func (r *Registry) enabledIDs() []string {
	ids := make([]string, 0, len(r.cfg.Providers))
	for id, pc := range r.cfg.Providers {
		if pc.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// pickCredential chooses among keyed credentials. A matching
// DefaultCredential label wins; otherwise the highest priority tier is used,
// rotating within it under the round_robin policy when advance is set.
// The returned slot names the credential for driver caching.
func (r *Registry) pickCredential(id string, pc ProviderInstanceConfig, advance bool) (CredentialConfig, string, error) {
	usable := slices.DeleteFunc(slices.Clone(pc.Credentials), func(c CredentialConfig) bool {
		labelled := strings.TrimSpace(c.Label) != ""
		return strings.TrimSpace(c.APIKey) == "" || (labelled && !c.Enabled)
	})
	if len(usable) == 0 {
		return CredentialConfig{}, "", ErrNoCredential
	}

	if want := strings.TrimSpace(pc.DefaultCredential); want != "" {
		for _, c := range usable {
			if strings.EqualFold(strings.TrimSpace(c.Label), want) {
				return c, strings.TrimSpace(c.Label), nil
			}
		}
	}

	top := slices.MaxFunc(usable, func(a, b CredentialConfig) int { return a.Priority - b.Priority }).Priority
	tier := slices.DeleteFunc(usable, func(c CredentialConfig) bool { return c.Priority != top })

	idx := 0
	if advance && strings.EqualFold(strings.TrimSpace(pc.SelectionPolicy), "round_robin") {
		idx = r.nextCursor(id+":"+strconv.Itoa(top), len(tier))
	}
	chosen := tier[idx]
	slot := strings.TrimSpace(chosen.Label)
	if slot == "" {
		slot = fmt.Sprintf("p%d-%d", top, idx)
	}
	return chosen, slot, nil
}

func (r *Registry) nextCursor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursors == nil {
		r.cursors = map[string]int{}
	}
	idx := r.cursors[key] % n
	r.cursors[key]++
	return idx
}

func (r *Registry) cached(slot string, pc ProviderInstanceConfig, apiKey string) (driver.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if drv, ok := r.drivers[slot]; ok {
		return drv, nil
	}
	drv, err := r.build(pc, apiKey)
	if err != nil {
		return nil, err
	}
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	r.drivers[slot] = drv
	return drv, nil
}

func (r *Registry) build(pc ProviderInstanceConfig, apiKey string) (driver.Driver, error) {
	if r.newDriver != nil {
		return r.newDriver(pc, apiKey)
	}
	switch kind := strings.ToLower(strings.TrimSpace(pc.AIProvider)); kind {
	case "openai":
		client := openai.NewClient(pc.BaseURL, apiKey)
		client.Timeout = r.cfg.DefaultTimeout
		return client, nil
	case "gemini":
		client := gemini.NewClient(pc.BaseURL, apiKey)
		client.Timeout = r.cfg.DefaultTimeout
		return client, nil
	case "":
		return nil, errors.New(`unsupported ai_provider "(unset)"`)
	default:
		return nil, fmt.Errorf("unsupported ai_provider %q", kind)
	}
}

// resolveModel prefers the explicit override, then the prompt's first
// preferred model, then the provider's default model.
func resolveModel(pc ProviderInstanceConfig, promptDef *prompt.Prompt, override string) (string, error) {
	candidates := []string{override}
	if promptDef != nil {
		candidates = append(candidates, preferredModels(promptDef.Config.ProviderHints["preferred_models"])...)
	}
	candidates = append(candidates, pc.Models["default"])
	for _, model := range candidates {
		if model = strings.TrimSpace(model); model != "" {
			return model, nil
		}
	}
	return "", errors.New("model not configured")
}

func preferredModels(hint any) []string {
	switch typed := hint.(type) {
	case string:
		return []string{typed}
	case []string:
		return typed
	case []any:
		var models []string
		for _, item := range typed {
			if s, ok := item.(string); ok {
				models = append(models, s)
			}
		}
		return models
	default:
		return nil
	}
}

// AcceptsRequestKey reports whether a caller-supplied OpenAI key applies to pc.
func AcceptsRequestKey(pc ProviderInstanceConfig) bool {
	return strings.EqualFold(strings.TrimSpace(pc.AIProvider), "openai")
}

func hasRole(roles []string, role string) bool {
	return slices.ContainsFunc(roles, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), role)
	})
}
