package phrase

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSet_RejectsEmpty(t *testing.T) {
	m := NewMap()
	for _, p := range []string{"", "   ", "\t\n"} {
		if err := m.Set(p, "color: red;"); !errors.Is(err, ErrEmptyPhrase) {
			t.Errorf("Set(%q): got %v, want ErrEmptyPhrase", p, err)
		}
	}
	if m.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", m.Len())
	}
}

func TestSet_TrimsAndPreservesCase(t *testing.T) {
	m := NewMap()
	if err := m.Set("  Error Code ", " color: red; "); err != nil {
		t.Fatal(err)
	}
	style, ok := m.Get("Error Code")
	if !ok {
		t.Fatal("phrase not stored under trimmed key")
	}
	if style != "color: red;" {
		t.Errorf("style: got %q", style)
	}
	if m.Has("error code") {
		t.Error("keys must stay case-sensitive")
	}
}

func TestSet_OverwriteKeepsPosition(t *testing.T) {
	m := NewMap()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("a", "3")

	got := strings.Join(m.Keys(), ",")
	if got != "a,b" {
		t.Fatalf("order: got %s, want a,b", got)
	}
	if s, _ := m.Get("a"); s != "3" {
		t.Errorf("a: got %q, want 3", s)
	}
}

func TestJSON_PreservesOrder(t *testing.T) {
	in := `{"zebra":"color: red;","apple":"color: blue;","mango":""}`
	var m Map
	if err := json.Unmarshal([]byte(in), &m); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(m.Keys(), ","); got != "zebra,apple,mango" {
		t.Fatalf("decode order: got %s", got)
	}

	out, err := json.Marshal(&m)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(out), "zebra") > strings.Index(string(out), "apple") {
		t.Errorf("encode order lost: %s", out)
	}
}

func TestJSON_DropsEmptyKeys(t *testing.T) {
	var m Map
	if err := json.Unmarshal([]byte(`{"":"x","  ":"y","ok":"z"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 || !m.Has("ok") {
		t.Fatalf("got keys %v, want [ok]", m.Keys())
	}
}

func TestJSON_NullAndEmpty(t *testing.T) {
	var m Map
	if err := json.Unmarshal([]byte(`null`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Fatalf("null: got %d entries", m.Len())
	}
	out, _ := json.Marshal(NewMap())
	if string(out) != "{}" {
		t.Errorf("empty map: got %s, want {}", out)
	}
}

func TestYAML_PreservesOrder(t *testing.T) {
	src := "cat: \"color: red;\"\ncata: \"color: blue;\"\n"
	var m Map
	if err := yaml.Unmarshal([]byte(src), &m); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(m.Keys(), ","); got != "cat,cata" {
		t.Fatalf("order: got %s", got)
	}

	out, err := yaml.Marshal(&m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(out), "cat:") {
		t.Errorf("encoded: %s", out)
	}
}

func TestYAML_RejectsSequence(t *testing.T) {
	var m Map
	if err := yaml.Unmarshal([]byte("- a\n- b\n"), &m); err == nil {
		t.Fatal("expected error for sequence input")
	}
}

func TestNilMap(t *testing.T) {
	var m *Map
	if m.Len() != 0 || m.Has("x") || m.Delete("x") {
		t.Fatal("nil map must read as empty")
	}
	for range m.All() {
		t.Fatal("nil map must not yield")
	}
}

func TestPattern_CaseInsensitiveLiteral(t *testing.T) {
	re := Pattern("Error")
	for _, s := range []string{"an error occurred", "ERROR CODE", "eRrOr"} {
		if !re.MatchString(s) {
			t.Errorf("%q: expected match", s)
		}
	}

	re = Pattern("a.b (c)*")
	if re.MatchString("axb (c)") {
		t.Error("metacharacters must be literal")
	}
	if !re.MatchString("see A.B (C)* here") {
		t.Error("literal text should match")
	}
}

func TestSanitizeStyle(t *testing.T) {
	cases := map[string]string{
		"  color: red;  ":                         "color: red;",
		"color: red;\"><script>alert(1)</script>": "color: red;\"scriptalert(1)/script",
		"<>": "",
	}
	for in, want := range cases {
		if got := SanitizeStyle(in); got != want {
			t.Errorf("SanitizeStyle(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestSettingsActive(t *testing.T) {
	m := NewMap()
	if (Settings{Phrases: m, Enabled: true}).Active() {
		t.Error("empty map must be inactive")
	}
	m.Set("x", "")
	if (Settings{Phrases: m, Enabled: false}).Active() {
		t.Error("disabled must be inactive")
	}
	if !(Settings{Phrases: m, Enabled: true}).Active() {
		t.Error("enabled with phrases must be active")
	}
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("underline")
	if !ok || !strings.Contains(s, "text-decoration") {
		t.Fatalf("Lookup(underline): %q %v", s, ok)
	}
	if DefaultStyle != Predefined[0].Style {
		t.Error("default style must be the first palette entry")
	}
}
