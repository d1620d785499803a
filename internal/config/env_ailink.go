package config

import (
	"os"
	"strconv"
	"strings"
)

// applyAILinkDynamicEnvOverrides maps variables such as
//
//	TRIPBUNDLE_AILINK_PROVIDERS_OPENAI_CREDENTIALS_0_API_KEY
//	TRIPBUNDLE_AILINK_ROUTING_ITINERARY_FRAGMENT=gemini
//
// onto the ailink section. Provider ids and roles use "-" for "_".
func applyAILinkDynamicEnvOverrides(prefix string, overrides map[string]any) {
	providerPrefix := prefix + "AILINK_PROVIDERS_"
	routingPrefix := prefix + "AILINK_ROUTING_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(key, providerPrefix):
			applyAILinkProviderOverride(overrides, key[len(providerPrefix):], value)
		case strings.HasPrefix(key, routingPrefix):
			if role := toSlug(key[len(routingPrefix):]); role != "" {
				routing := ensureMap(ensureMap(overrides, "ailink"), "routing")
				routing[role] = value
			}
		}
	}
}

var providerSections = map[string]bool{
	"ENABLED": true, "AI": true, "BASE": true, "MODELS": true, "CREDENTIALS": true,
	"DEFAULT": true, "SELECTION": true,
}

func applyAILinkProviderOverride(overrides map[string]any, raw string, value string) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	section := -1
	for i, part := range parts {
		if i > 0 && providerSections[part] {
			section = i
			break
		}
	}
	if section <= 0 {
		return
	}

	providerID := strings.ToLower(strings.Join(parts[:section], "-"))
	provider := ensureMap(ensureMap(ensureMap(overrides, "ailink"), "providers"), providerID)

	rest := parts[section:]
	field := strings.ToLower(strings.Join(rest, "_"))
	switch {
	case field == "enabled":
		provider["enabled"] = strings.EqualFold(value, "true")
	case field == "ai_provider", field == "selection_policy":
		provider[field] = strings.ToLower(value)
	case field == "default_credential", field == "base_url":
		provider[field] = value
	case rest[0] == "MODELS" && len(rest) >= 2:
		ensureMap(provider, "models")[strings.ToLower(strings.Join(rest[1:], "_"))] = value
	case rest[0] == "CREDENTIALS" && len(rest) >= 3:
		idx, err := strconv.Atoi(rest[1])
		if err != nil || idx < 0 {
			return
		}
		credField := strings.ToLower(strings.Join(rest[2:], "_"))
		cred := ensureSliceMap(ensureSlice(provider, "credentials", idx+1), idx)
		switch credField {
		case "priority":
			if parsed, err := strconv.Atoi(value); err == nil {
				cred[credField] = parsed
				return
			}
			cred[credField] = value
		case "enabled":
			cred[credField] = strings.EqualFold(value, "true")
		default:
			cred[credField] = value
		}
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if typed, ok := parent[key].(map[string]any); ok {
		return typed
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	existing, _ := parent[key].([]any)
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return map[string]any{}
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "-")
}
