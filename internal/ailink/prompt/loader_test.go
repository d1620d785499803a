package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	prompts, err := LoadDefaults()
	require.NoError(t, err)
	require.NotEmpty(t, prompts)

	reg, err := NewRegistry(prompts)
	require.NoError(t, err)

	prompt, err := reg.Get("itinerary-fragment")
	require.NoError(t, err)
	require.NotEmpty(t, prompt.Config.SystemTemplate)
	require.NotEmpty(t, prompt.Config.ResponseSchema)
	require.Contains(t, prompt.Config.Input.RequiredVariables, "evidence")
	require.Contains(t, prompt.Config.RepairTemplate, "{{problem}}")
}

func TestLoadRejectsBadSchema(t *testing.T) {
	data := []byte("---\nslug: broken\nresponse_schema:\n  type: bogus\n---\nsystem text\n")
	_, err := Load("broken.md", data)
	require.Error(t, err)
}

func TestLoadRequiresSlug(t *testing.T) {
	_, err := Load("noslug.md", []byte("---\nname: x\n---\nbody\n"))
	require.ErrorContains(t, err, "slug is required")
}

func TestRegistryWithOverrides(t *testing.T) {
	dir := t.TempDir()
	override := "---\nslug: itinerary-fragment\nuser_template: custom {{destination}}\n---\nCustom system prompt.\n"
	extra := "---\nslug: packing-list\n---\nList what to pack.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte(override), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte(extra), 0o600))

	reg, err := RegistryWithOverrides(dir)
	require.NoError(t, err)

	p, err := reg.Get("itinerary-fragment")
	require.NoError(t, err)
	require.Equal(t, "Custom system prompt.", p.Config.SystemTemplate)

	_, err = reg.Get("packing-list")
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)
}

func TestLoadPlainYAML(t *testing.T) {
	p, err := Load("plain.yaml", []byte("slug: plain\nsystem_template: Be brief.\n"))
	require.NoError(t, err)
	require.Equal(t, "Be brief.", p.Config.SystemTemplate)
	require.Equal(t, "plain.yaml", p.Source)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	a := &Prompt{Config: Config{Slug: "same", SystemTemplate: "a"}}
	b := &Prompt{Config: Config{Slug: "same", SystemTemplate: "b"}}
	_, err := NewRegistry([]*Prompt{a, b})
	require.ErrorContains(t, err, "duplicate prompt slug")

	set, err := NewRegistry([]*Prompt{a})
	require.NoError(t, err)
	require.NoError(t, set.Override([]*Prompt{b}))
	got, err := set.Get("same")
	require.NoError(t, err)
	require.Equal(t, "b", got.Config.SystemTemplate)
}
