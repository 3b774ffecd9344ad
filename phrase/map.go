// Package phrase defines the phrase → style mapping that drives highlighting,
// together with style sanitising and the built-in style palette.
//
// A Map keeps insertion order. Order is part of the contract: when two
// phrases overlap in the same text, the one inserted first wins.
package phrase

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// ErrEmptyPhrase is returned when a phrase is empty after trimming.
var ErrEmptyPhrase = errors.New("phrase: empty phrase")

// Map is an insertion-ordered phrase → style descriptor mapping.
// The zero value is not usable; call NewMap. A nil *Map reads as empty.
type Map struct {
	om *orderedmap.OrderedMap[string, string]
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{om: orderedmap.New[string, string]()}
}

// Normalize trims a phrase and rejects it when nothing is left.
func Normalize(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrEmptyPhrase
	}
	return p, nil
}

// Set stores style for phrase. The phrase is trimmed; an existing phrase keeps
// its position.
func (m *Map) Set(p, style string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	m.om.Set(key, strings.TrimSpace(style))
	return nil
}

// Get returns the style stored for phrase.
func (m *Map) Get(p string) (string, bool) {
	if m == nil {
		return "", false
	}
	return m.om.Get(strings.TrimSpace(p))
}

// Has reports whether phrase is present.
func (m *Map) Has(p string) bool {
	_, ok := m.Get(p)
	return ok
}

// Delete removes phrase and reports whether it was present.
func (m *Map) Delete(p string) bool {
	if m == nil {
		return false
	}
	_, ok := m.om.Delete(strings.TrimSpace(p))
	return ok
}

// Len returns the number of phrases.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return m.om.Len()
}

// All iterates phrase/style pairs in insertion order.
func (m *Map) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if m == nil {
			return
		}
		for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Keys returns the phrases in insertion order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.Len())
	for k := range m.All() {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map {
	c := NewMap()
	for k, v := range m.All() {
		c.om.Set(k, v)
	}
	return c
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil || m.om.Len() == 0 {
		return []byte("{}"), nil
	}
	return m.om.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping document order. Keys that are
// empty after trimming are dropped.
func (m *Map) UnmarshalJSON(data []byte) error {
	m.om = orderedmap.New[string, string]()
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	raw := orderedmap.New[string, string]()
	if err := raw.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("phrase: decode map: %w", err)
	}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		_ = m.Set(pair.Key, pair.Value)
	}
	return nil
}

// MarshalYAML encodes the map as a YAML mapping in insertion order.
func (m *Map) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for k, v := range m.All() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v},
		)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping, keeping document order.
func (m *Map) UnmarshalYAML(value *yaml.Node) error {
	m.om = orderedmap.New[string, string]()
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("phrase: line %d: expected a mapping of phrase to style", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("phrase: line %d: style for %q must be a string", v.Line, k.Value)
		}
		_ = m.Set(k.Value, v.Value)
	}
	return nil
}

// Pattern compiles the case-insensitive literal matcher for phrase.
func Pattern(p string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
}

// Settings is the configuration a highlight pass runs with. It is read fresh
// from the registry at the start of every cycle and passed down explicitly.
type Settings struct {
	Phrases *Map
	Enabled bool
}

// Active reports whether a pass with these settings would highlight anything.
func (s Settings) Active() bool {
	return s.Enabled && s.Phrases.Len() > 0
}
