package prompt

import (
	"embed"
	"io/fs"
	"os"
	"strings"
)

//go:embed prompts/*.md
var embedded embed.FS

// LoadDefaults loads the prompts shipped with the binary.
func LoadDefaults() ([]*Prompt, error) {
	sub, err := fs.Sub(embedded, "prompts")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub, "embedded:")
}

// DefaultRegistry builds a registry from the shipped prompts.
func DefaultRegistry() (Registry, error) {
	return RegistryWithOverrides("")
}

// RegistryWithOverrides starts from the shipped prompts and lets files in dir
// replace them by slug or add new ones. An empty dir yields the defaults.
func RegistryWithOverrides(dir string) (Registry, error) {
	defaults, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	set, err := NewRegistry(defaults)
	if err != nil {
		return nil, err
	}
	if dir = strings.TrimSpace(dir); dir == "" {
		return set, nil
	}
	overrides, err := LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	if err := set.Override(overrides); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadFromDir reads every *.md prompt in dir.
func LoadFromDir(dir string) ([]*Prompt, error) {
	return LoadFS(os.DirFS(dir), dir+string(os.PathSeparator))
}
