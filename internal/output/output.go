package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tripbundle/tripbundle/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders a plan result.
type Formatter interface {
	FormatPlan(result *core.PlanResult) (string, error)
}

// JSONFormatter emits the PlanResult wire shape, the same document the
// HTTP API returns.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatPlan(result *core.PlanResult) (string, error) {
	if result == nil {
		return "", nil
	}
	marshal := json.Marshal
	if f.Indent {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(result)
	return string(data), err
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}
