package phrase

import "strings"

var angleStripper = strings.NewReplacer("<", "", ">", "")

// SanitizeStyle strips angle brackets and surrounding whitespace from a style
// descriptor. It never rejects input.
func SanitizeStyle(style string) string {
	return strings.TrimSpace(angleStripper.Replace(style))
}

// Style is a named entry of the built-in palette.
type Style struct {
	Name  string `json:"name"`
	Style string `json:"style"`
}

// Predefined is the built-in palette, in display order.
var Predefined = []Style{
	{"Yellow", "background-color: #ffeb3b; color: #000; padding: 2px 4px; border-radius: 3px;"},
	{"Blue", "background-color: #2196f3; color: #fff; padding: 2px 4px; border-radius: 3px;"},
	{"Green", "background-color: #4caf50; color: #fff; padding: 2px 4px; border-radius: 3px;"},
	{"Red", "background-color: #f44336; color: #fff; padding: 2px 4px; border-radius: 3px;"},
	{"Orange", "background-color: #ff9800; color: #000; padding: 2px 4px; border-radius: 3px;"},
	{"Purple", "background-color: #9c27b0; color: #fff; padding: 2px 4px; border-radius: 3px;"},
	{"Underline", "text-decoration: underline; text-decoration-color: #2196f3; text-decoration-thickness: 2px;"},
	{"Bold", "font-weight: bold; color: #1976d2;"},
}

// DefaultStyle is applied to phrases captured by selection.
var DefaultStyle = Predefined[0].Style

// Lookup returns the palette style with the given name, case-insensitively.
func Lookup(name string) (string, bool) {
	for _, s := range Predefined {
		if strings.EqualFold(s.Name, name) {
			return s.Style, true
		}
	}
	return "", false
}
