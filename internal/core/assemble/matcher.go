package assemble

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/tripbundle/tripbundle/internal/core"
)

// InterestMatcher finds requested interest tags in free activity text.
type InterestMatcher struct {
	tags []string
	ac   *ahocorasick.AhoCorasick
}

// NewInterestMatcher builds a case-insensitive whole-word matcher for tags.
func NewInterestMatcher(tags []string) *InterestMatcher {
	m := &InterestMatcher{}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		m.tags = append(m.tags, tag)
	}
	if len(m.tags) == 0 {
		return m
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
		DFA:                  true,
	})
	ac := builder.Build(m.tags)
	m.ac = &ac
	return m
}

// Tags returns the normalised tags in input order.
func (m *InterestMatcher) Tags() []string {
	if m == nil {
		return nil
	}
	return m.tags
}

// Match returns the tags that appear in text.
func (m *InterestMatcher) Match(text string) []string {
	if m == nil || m.ac == nil || text == "" {
		return nil
	}
	var out []string
	found := make(map[int]struct{})
	for _, match := range m.ac.FindAll(text) {
		idx := match.Pattern()
		if _, dup := found[idx]; dup {
			continue
		}
		found[idx] = struct{}{}
		out = append(out, m.tags[idx])
	}
	return out
}

// Covered returns the set of requested tags a fragment addresses, either
// declared by the model or found in its day and activity text.
func (m *InterestMatcher) Covered(frag *core.ItineraryFragment) map[string]struct{} {
	covered := make(map[string]struct{})
	if m == nil || frag == nil || len(m.tags) == 0 {
		return covered
	}
	requested := make(map[string]struct{}, len(m.tags))
	for _, tag := range m.tags {
		requested[tag] = struct{}{}
	}
	mark := func(tags []string) {
		for _, tag := range tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if _, ok := requested[tag]; ok {
				covered[tag] = struct{}{}
			}
		}
	}

	mark(frag.InterestsCovered)
	for _, day := range frag.Days {
		mark(m.Match(day.Title))
		for _, act := range day.Activities {
			mark(act.Interests)
			mark(m.Match(act.Name + " " + act.Description))
		}
	}
	return covered
}
