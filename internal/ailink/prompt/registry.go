package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Registry provides access to prompt definitions.
type Registry interface {
	Get(slug string) (*Prompt, error)
	List() []*Prompt
}

// Set is a slug-keyed Registry. The zero value is empty and usable.
type Set struct {
	bySlug map[string]*Prompt
}

// NewRegistry builds a Set and rejects duplicate or missing slugs.
func NewRegistry(prompts []*Prompt) (*Set, error) {
	set := &Set{}
	for _, p := range prompts {
		if err := set.add(p, false); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Override adds prompts, replacing any existing definition with the same slug.
func (s *Set) Override(prompts []*Prompt) error {
	for _, p := range prompts {
		if err := s.add(p, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) add(p *Prompt, replace bool) error {
	if p == nil {
		return nil
	}
	slug := strings.TrimSpace(p.Config.Slug)
	if slug == "" {
		return fmt.Errorf("prompt %s missing slug", p.Source)
	}
	if s.bySlug == nil {
		s.bySlug = make(map[string]*Prompt)
	}
	if _, exists := s.bySlug[slug]; exists && !replace {
		return fmt.Errorf("duplicate prompt slug: %s", slug)
	}
	s.bySlug[slug] = p
	return nil
}

func (s *Set) Get(slug string) (*Prompt, error) {
	slug = strings.TrimSpace(slug)
	switch {
	case s == nil:
		return nil, fmt.Errorf("prompt registry not configured")
	case slug == "":
		return nil, fmt.Errorf("prompt slug is required")
	}
	if p, ok := s.bySlug[slug]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("prompt %q not found", slug)
}

// List returns prompts ordered by slug.
func (s *Set) List() []*Prompt {
	if s == nil {
		return nil
	}
	out := make([]*Prompt, 0, len(s.bySlug))
	for _, p := range s.bySlug {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Slug < out[j].Config.Slug })
	return out
}
