package ailink

import (
	"fmt"
	"strings"
)

// Prompt templates use {{name}} substitution and
// {{#if name}}...{{else}}...{{/if}} blocks, which may nest. A block renders
// its first branch when the variable is set and not blank. Unknown variables
// render as-is so a missing optional value stays visible to the model.

type tmplNode struct {
	text     string
	variable string
	cond     string
	then     []tmplNode
	orElse   []tmplNode
}

func renderTemplate(src string, vars map[string]string) (string, error) {
	nodes, _, stop, err := parseTemplate(src)
	if err != nil {
		return "", err
	}
	if stop != "" {
		return "", fmt.Errorf("template: unexpected {{%s}}", stop)
	}
	var b strings.Builder
	writeNodes(&b, nodes, vars)
	return b.String(), nil
}

// parseTemplate consumes src until it ends or meets an {{else}} or {{/if}},
// which is returned as stop along with the unconsumed input after it.
func parseTemplate(src string) (nodes []tmplNode, rest, stop string, err error) {
	for src != "" {
		before, after, found := strings.Cut(src, "{{")
		if before != "" {
			nodes = append(nodes, tmplNode{text: before})
		}
		if !found {
			return nodes, "", "", nil
		}
		tag, tail, closed := strings.Cut(after, "}}")
		if !closed {
			nodes = append(nodes, tmplNode{text: "{{" + after})
			return nodes, "", "", nil
		}
		tag = strings.TrimSpace(tag)

		switch {
		case tag == "else" || tag == "/if":
			return nodes, tail, tag, nil
		case strings.HasPrefix(tag, "#if"):
			block := tmplNode{cond: strings.TrimSpace(strings.TrimPrefix(tag, "#if"))}
			if block.cond == "" {
				return nil, "", "", fmt.Errorf("template: {{#if}} without a variable")
			}
			var end string
			block.then, tail, end, err = parseTemplate(tail)
			if err != nil {
				return nil, "", "", err
			}
			if end == "else" {
				block.orElse, tail, end, err = parseTemplate(tail)
				if err != nil {
					return nil, "", "", err
				}
			}
			if end != "/if" {
				return nil, "", "", fmt.Errorf("template: unterminated {{#if %s}}", block.cond)
			}
			nodes = append(nodes, block)
		default:
			nodes = append(nodes, tmplNode{variable: tag})
		}
		src = tail
	}
	return nodes, "", "", nil
}

func writeNodes(b *strings.Builder, nodes []tmplNode, vars map[string]string) {
	for _, n := range nodes {
		switch {
		case n.cond != "":
			if strings.TrimSpace(vars[n.cond]) != "" {
				writeNodes(b, n.then, vars)
			} else {
				writeNodes(b, n.orElse, vars)
			}
		case n.variable != "":
			if value, ok := vars[n.variable]; ok {
				b.WriteString(value)
			} else {
				b.WriteString("{{" + n.variable + "}}")
			}
		default:
			b.WriteString(n.text)
		}
	}
}
