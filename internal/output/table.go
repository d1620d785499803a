package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tripbundle/tripbundle/internal/core"
)

// TableFormatter renders a plan as a ranked table followed by the stays of
// each bundle.
type TableFormatter struct{}

// FormatPlan renders a plan result as a table.
func (f *TableFormatter) FormatPlan(result *core.PlanResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := bundleTable(result)
	t.SetStyle(table.StyleRounded)

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n")

	for i, b := range result.Bundles {
		sb.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, b.Label))
		for _, stay := range b.Stays {
			sb.WriteString("   " + stayLine(stay, result.Currency) + "\n")
		}
		if b.ReturnTransit > 0 {
			sb.WriteString("   return transit " + Money(b.ReturnTransit, result.Currency) + "\n")
		}
	}

	for _, warning := range result.Warnings {
		sb.WriteString("\nwarning: " + warning)
	}
	if len(result.Warnings) > 0 {
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func bundleTable(result *core.PlanResult) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Route", "Total", "Score", "Budget", "Degraded"})
	for i, b := range result.Bundles {
		t.AppendRow(table.Row{
			i + 1,
			b.Label,
			Money(b.TotalCost, result.Currency),
			fmt.Sprintf("%.4f", b.Score),
			budgetStatus(b, result.Currency),
			degradedLabel(b),
		})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d bundle(s), %s", result.BundleCount, Title(string(result.State))),
		"budget " + Money(result.BudgetTotal, result.Currency),
		"",
		"",
		"",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t
}
