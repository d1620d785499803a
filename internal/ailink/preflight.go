package ailink

import (
	"errors"
	"fmt"
	"strings"
)

// Preflight reports how a completion for slug would be routed and fails when
// it could not run: no enabled provider, an unknown prompt, or no credential
// and no usable apiKey override. The override is an OpenAI key and only
// counts when the role routes to an openai provider. It makes no network calls.
func (s *Service) Preflight(role, slug, apiKey string) (ProviderStatus, error) {
	if s == nil || s.Providers == nil || s.Registry == nil {
		return ProviderStatus{}, errors.New("ailink service not configured")
	}
	promptDef, err := s.Registry.Get(slug)
	if err != nil {
		return ProviderStatus{}, err
	}
	if strings.TrimSpace(role) == "" {
		role = slug
	}
	status, err := s.Providers.Inspect(role, promptDef)
	if err != nil {
		return status, err
	}
	if strings.TrimSpace(apiKey) != "" && strings.EqualFold(status.AIProvider, "openai") {
		status.HasCredential = true
		return status, nil
	}
	if !status.HasCredential {
		return status, fmt.Errorf("provider %q: %w", status.ProviderID, ErrNoCredential)
	}
	return status, nil
}
