package prompt

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/schema"
	"gopkg.in/yaml.v3"
)

const frontmatterFence = "---"

// LoadFS parses every *.md file at the root of fsys, in name order. prefix is
// prepended to file names in Prompt.Source and error messages.
func LoadFS(fsys fs.FS, prefix string) ([]*Prompt, error) {
	names, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return nil, fmt.Errorf("scan prompts: %w", err)
	}
	sort.Strings(names)

	prompts := make([]*Prompt, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s%s: %w", prefix, name, err)
		}
		p, err := Load(prefix+name, data)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, nil
}

// Load parses a prompt file. The file is either plain YAML or YAML
// frontmatter followed by a markdown body; the body becomes the system
// template when the frontmatter does not set one.
func Load(source string, data []byte) (*Prompt, error) {
	cfg, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}
	if strings.TrimSpace(cfg.SystemTemplate) == "" {
		cfg.SystemTemplate = body
	}
	if cfg.SystemTemplate == "" {
		return nil, fmt.Errorf("prompt %s missing system_template", source)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate prompt %s: %w", source, err)
	}
	return &Prompt{Config: cfg, Source: source}, nil
}

func splitFrontmatter(text string) (Config, string, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return Config{}, "", fmt.Errorf("empty prompt")
	}

	var cfg Config
	rest, fenced := strings.CutPrefix(text, frontmatterFence+"\n")
	if !fenced {
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return Config{}, "", fmt.Errorf("invalid yaml: %w", err)
		}
		return cfg, "", nil
	}

	front, body, closed := strings.Cut(rest, "\n"+frontmatterFence)
	if !closed {
		// An unterminated fence is all frontmatter.
		front, body = rest, ""
	}
	if err := yaml.Unmarshal([]byte(front), &cfg); err != nil {
		return Config{}, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	return cfg, strings.TrimSpace(body), nil
}

// validateConfig checks the slug and that any response schema compiles.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Slug) == "" {
		return fmt.Errorf("slug is required")
	}
	if len(cfg.ResponseSchema) == 0 {
		return nil
	}
	payload, err := json.Marshal(cfg.ResponseSchema)
	if err != nil {
		return fmt.Errorf("encode response_schema: %w", err)
	}
	if _, err := schema.NewValidator(payload); err != nil {
		return fmt.Errorf("compile response_schema: %w", err)
	}
	return nil
}
