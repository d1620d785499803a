package ailink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		name string
		src  string
		vars map[string]string
		want string
	}{
		{"plain", "no tags", nil, "no tags"},
		{"substitute", "to {{city}}!", map[string]string{"city": "Lisbon"}, "to Lisbon!"},
		{"unknown kept", "{{missing}}", nil, "{{missing}}"},
		{"if set", "{{#if a}}yes{{else}}no{{/if}}", map[string]string{"a": "1"}, "yes"},
		{"if blank", "{{#if a}}yes{{else}}no{{/if}}", map[string]string{"a": "  "}, "no"},
		{"if without else", "[{{#if a}}x{{/if}}]", nil, "[]"},
		{
			"nested",
			"{{#if a}}A{{#if b}}B{{else}}-{{/if}}{{else}}none{{/if}}",
			map[string]string{"a": "1"},
			"A-",
		},
		{"values not reparsed", "{{v}}", map[string]string{"v": "{{#if x}}"}, "{{#if x}}"},
		{"unclosed tag", "a {{b", nil, "a {{b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := renderTemplate(tc.src, tc.vars)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRenderTemplateErrors(t *testing.T) {
	for _, src := range []string{"{{#if a}}open", "stray {{/if}}", "{{else}}", "{{#if}}x{{/if}}"} {
		_, err := renderTemplate(src, nil)
		require.Error(t, err, src)
	}
}
