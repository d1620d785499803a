package output

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tripbundle/tripbundle/internal/core"
)

// Money renders an amount with digit grouping, e.g. "EUR 4,250.00".
func Money(amount float64, currency string) string {
	formatted := message.NewPrinter(language.English).Sprintf("%.2f", amount)
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency != "" {
		return currency + " " + formatted
	}
	return formatted
}

// Title title-cases a slug or free-text name, e.g. "family_friendly" -> "Family Friendly".
func Title(value string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.TrimSpace(value), "_", " "))
}

func budgetStatus(b core.Bundle, currency string) string {
	if b.OverBudget {
		return "over by " + Money(b.Overage, currency)
	}
	return "within budget"
}

func degradedLabel(b core.Bundle) string {
	if len(b.Degradations) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(b.Degradations))
	for _, d := range b.Degradations {
		parts = append(parts, fmt.Sprintf("%s (%s)", d.Destination, d.Reason))
	}
	return strings.Join(parts, ", ")
}

func stayLine(s core.Stay, currency string) string {
	line := fmt.Sprintf("%s %s → %s, %d nights, %s",
		s.Destination, s.Start, s.End, s.Nights, Money(s.Itinerary.Total(), currency))
	if s.TransitIn > 0 {
		line += fmt.Sprintf(" + %s transit", Money(s.TransitIn, currency))
	}
	return line
}
