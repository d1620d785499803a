package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tripbundle/tripbundle/internal/core"
)

// MarkdownFormatter renders a plan as markdown with one section per bundle.
type MarkdownFormatter struct{}

// FormatPlan renders a plan result as Markdown.
func (f *MarkdownFormatter) FormatPlan(result *core.PlanResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Trip bundles (%d)\n\n", result.BundleCount))
	sb.WriteString(bundleTable(result).RenderMarkdown())
	sb.WriteString("\n")

	for i, b := range result.Bundles {
		sb.WriteString(fmt.Sprintf("\n### %d. %s\n\n", i+1, escapeMarkdown(b.Label)))
		sb.WriteString(fmt.Sprintf("Objective: %s, score %.4f\n\n", Title(b.ScoreDetail.Objective), b.Score))

		stays := table.NewWriter()
		stays.AppendHeader(table.Row{"Destination", "Dates", "Nights", "Lodging", "Transport", "Activities", "Dining", "Transit in"})
		for _, s := range b.Stays {
			c := s.Itinerary.Costs
			stays.AppendRow(table.Row{
				s.Destination,
				fmt.Sprintf("%s → %s", s.Start, s.End),
				s.Nights,
				Money(c.Lodging, ""),
				Money(c.Transport, ""),
				Money(c.Activities, ""),
				Money(c.Dining, ""),
				Money(s.TransitIn, ""),
			})
		}
		sb.WriteString(stays.RenderMarkdown())
		sb.WriteString("\n")

		for _, s := range b.Stays {
			for _, day := range s.Itinerary.Days {
				if len(day.Activities) == 0 {
					continue
				}
				names := make([]string, 0, len(day.Activities))
				for _, a := range day.Activities {
					names = append(names, escapeMarkdown(a.Name))
				}
				sb.WriteString(fmt.Sprintf("- %s day %d (%s): %s\n", s.Destination, day.Day, day.Date, strings.Join(names, "; ")))
			}
		}

		sb.WriteString(fmt.Sprintf("\n**Total**: %s (%s)\n", Money(b.TotalCost, result.Currency), budgetStatus(b, result.Currency)))
		if len(b.Degradations) > 0 {
			sb.WriteString(fmt.Sprintf("**Degraded**: %s\n", degradedLabel(b)))
		}
	}

	if len(result.Warnings) > 0 {
		sb.WriteString("\n> ")
		sb.WriteString(strings.Join(result.Warnings, "\n> "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func escapeMarkdown(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
