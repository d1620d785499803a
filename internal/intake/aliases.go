package intake

import (
	"strconv"
	"strings"
	"time"

	"github.com/tripbundle/tripbundle/internal/core"
)

// topLevelAliases maps browser form names onto request fields. A dotted
// target nests the value under that object.
var topLevelAliases = map[string]string{
	"startDate":    "dates.start",
	"start_date":   "dates.start",
	"endDate":      "dates.end",
	"end_date":     "dates.end",
	"budget":       "budget_total",
	"budgetTotal":  "budget_total",
	"objective":    "prefs.objective",
	"adults":       "party.adults",
	"children":     "party.children",
	"seniors":      "party.seniors",
	"openAiKey":    "openai_api_key",
	"openaiApiKey": "openai_api_key",
	"openAIApiKey": "openai_api_key",
	"tavilyKey":    "tavily_api_key",
	"tavilyApiKey": "tavily_api_key",
	"allowDomains": "allow_domains",
	"denyDomains":  "deny_domains",
}

// listFields accept a comma-separated string in place of an array.
var listFields = []string{"destinations", "interests", "allow_domains", "deny_domains"}

// numericFields accept numeric strings, as form posts send them.
var numericFields = []string{"budget_total"}

func normalizeKeys(raw map[string]any) map[string]any {
	doc := make(map[string]any, len(raw))
	for key, value := range raw {
		if _, aliased := topLevelAliases[key]; aliased {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			value = cloneMap(nested)
		}
		doc[key] = value
	}

	// canonical names win over aliases
	for key, value := range raw {
		target, aliased := topLevelAliases[key]
		if !aliased {
			continue
		}
		parent, child, nested := strings.Cut(target, ".")
		if !nested {
			if _, exists := doc[target]; !exists {
				doc[target] = value
			}
			continue
		}
		obj, _ := doc[parent].(map[string]any)
		if obj == nil {
			obj = map[string]any{}
			doc[parent] = obj
		}
		if _, exists := obj[child]; !exists {
			obj[child] = value
		}
	}

	for _, field := range listFields {
		if s, ok := doc[field].(string); ok {
			doc[field] = splitList(s)
		}
	}
	for _, field := range numericFields {
		if s, ok := doc[field].(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				doc[field] = n
			}
		}
	}
	if party, ok := doc["party"].(map[string]any); ok {
		for key, value := range party {
			if s, ok := value.(string); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
					party[key] = n
				}
			}
		}
	}
	if dates, ok := doc["dates"].(map[string]any); ok {
		for key, value := range dates {
			if t, ok := value.(time.Time); ok {
				dates[key] = t.Format(core.DateLayout)
			}
		}
	}
	return doc
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func splitList(s string) []any {
	out := []any{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
