package engine

import (
	"fmt"

	"github.com/tripbundle/tripbundle/internal/ailink"
	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/explorer"
	"github.com/tripbundle/tripbundle/internal/core/synth"
	"github.com/tripbundle/tripbundle/internal/search"
)

// SearchExplorers builds request-scoped explorers over a shared gateway.
// When the request carries a search key, the explorer gets a private copy of
// the Tavily client bound to that key.
type SearchExplorers struct {
	Base    *explorer.Explorer
	Gateway *search.Gateway
	Tavily  *search.TavilyClient
}

// ForRequest implements ExplorerFactory.
func (s *SearchExplorers) ForRequest(origin string, allow, deny []string, creds core.Credentials) Explorer {
	base := s.Base
	if base == nil {
		base = explorer.New(nil, nil)
	}
	gateway := s.Gateway
	if gateway != nil && creds.HasSearchKey() && s.Tavily != nil {
		gateway = gateway.WithProvider(s.Tavily.WithAPIKey(creds.TavilyAPIKey))
	}
	e := base.WithScope(origin, allow, deny)
	if gateway != nil {
		e = e.WithSearcher(gateway)
	}
	return e
}

// LLMCheck verifies the synthesis prompt can be routed to a provider with a
// credential, either configured or supplied with the request.
type LLMCheck struct {
	Service *ailink.Service
	Role    string
}

// CheckLLM implements CredentialChecker.
func (c *LLMCheck) CheckLLM(creds core.Credentials) error {
	if c == nil || c.Service == nil {
		return fmt.Errorf("%w: no llm provider configured", core.ErrLLMUnreachable)
	}
	_, err := c.Service.Preflight(c.Role, synth.PromptSlug, creds.OpenAIAPIKey)
	if err == nil {
		return nil
	}
	if ailink.Classify(err) == ailink.ClassAuth {
		return fmt.Errorf("%w: %v", core.ErrLLMAuth, err)
	}
	return fmt.Errorf("%w: %v", core.ErrLLMUnreachable, err)
}
