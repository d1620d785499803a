package search

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxFactLength = 240

var (
	sentencePattern = regexp.MustCompile(`(?:[^.!?\n]|\.\d)+[.!?]?`)
	pricePattern    = regexp.MustCompile(`(?i)([$€£¥]\s?\d[\d,.]*|\d[\d,.]*\s?(usd|eur|gbp|jpy|chf|dollars?|euros?|pounds?)\b)`)
	spacePattern    = regexp.MustCompile(`\s+`)
	factKeywords    = []string{
		"per night", "per person", "ticket", "admission", "entry fee", "fare",
		"day pass", "pass", "open daily", "opening hours", "visa", "closed on",
	}
)

// StripHTML returns the visible text of an HTML fragment. Plain text passes
// through unchanged.
func StripHTML(content string) string {
	if !strings.Contains(content, "<") {
		return collapseSpace(content)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return collapseSpace(content)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseSpace(doc.Text())
}

// ExtractFacts picks up to max sentences that carry prices or practical
// details from provider content.
func ExtractFacts(content string, max int) []string {
	if max <= 0 {
		return nil
	}
	text := StripHTML(content)
	if text == "" {
		return nil
	}

	facts := make([]string, 0, max)
	seen := make(map[string]struct{})
	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 12 || !isFact(sentence) {
			continue
		}
		if runes := []rune(sentence); len(runes) > maxFactLength {
			sentence = strings.TrimSpace(string(runes[:maxFactLength])) + "…"
		}
		key := strings.ToLower(sentence)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		facts = append(facts, sentence)
		if len(facts) == max {
			break
		}
	}
	return facts
}

func isFact(sentence string) bool {
	if pricePattern.MatchString(sentence) {
		return true
	}
	lower := strings.ToLower(sentence)
	for _, kw := range factKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
