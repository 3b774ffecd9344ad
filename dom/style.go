package dom

import (
	"strings"

	"golang.org/x/net/html"
)

type declaration struct {
	name  string
	value string
	raw   string
}

func parseDeclarations(s string) []declaration {
	var out []declaration
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			out = append(out, declaration{raw: part})
			continue
		}
		out = append(out, declaration{
			name:  strings.ToLower(strings.TrimSpace(name)),
			value: strings.TrimSpace(value),
		})
	}
	return out
}

func formatDeclarations(ds []declaration) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		if d.name == "" {
			parts = append(parts, d.raw+";")
			continue
		}
		parts = append(parts, d.name+": "+d.value+";")
	}
	return strings.Join(parts, " ")
}

// StyleProperty returns the inline value of a CSS property, or "".
func StyleProperty(n *html.Node, prop string) string {
	v, _ := Attr(n, "style")
	prop = strings.ToLower(prop)
	out := ""
	for _, d := range parseDeclarations(v) {
		if d.name == prop {
			out = d.value
		}
	}
	return out
}

// SetStyleProperty sets an inline CSS property. An empty value removes it,
// and the style attribute is dropped once no declarations remain.
func (d *Document) SetStyleProperty(n *html.Node, prop, value string) {
	cur, _ := Attr(n, "style")
	prop = strings.ToLower(prop)
	decls := parseDeclarations(cur)
	kept := decls[:0]
	replaced := false
	for _, decl := range decls {
		if decl.name != prop {
			kept = append(kept, decl)
			continue
		}
		if value != "" && !replaced {
			decl.value = value
			kept = append(kept, decl)
			replaced = true
		}
	}
	if value != "" && !replaced {
		kept = append(kept, declaration{name: prop, value: value})
	}
	if len(kept) == 0 {
		d.RemoveAttr(n, "style")
		return
	}
	d.SetAttr(n, "style", formatDeclarations(kept))
}
