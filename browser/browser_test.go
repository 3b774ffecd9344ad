package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/phrasemark/mutation"
)

func TestBlocked(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, c := range cases {
		if got := blocked(set, c.typ); got != c.want {
			t.Errorf("blocked(%s): got %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestInsertRecord_Qualification(t *testing.T) {
	text := &proto.DOMNode{NodeType: mutation.TextNode, NodeName: "#text", NodeValue: "breaking news"}
	el := &proto.DOMNode{
		NodeType: mutation.ElementNode, NodeName: "DIV", LocalName: "div",
		Children: []*proto.DOMNode{
			{NodeType: mutation.ElementNode, NodeName: "SCRIPT", Children: []*proto.DOMNode{
				{NodeType: mutation.TextNode, NodeValue: "var x"},
			}},
			{NodeType: mutation.ElementNode, NodeName: "P", Children: []*proto.DOMNode{text}},
		},
	}
	empty := &proto.DOMNode{NodeType: mutation.ElementNode, NodeName: "IMG", LocalName: "img"}

	rec := insertRecord(el)
	if rec.Tag != "div" || rec.Text != "breaking news" {
		t.Fatalf("element record: got %+v", rec)
	}
	if !mutation.Qualifies([]mutation.Record{rec}) {
		t.Fatal("element with text did not qualify")
	}
	if mutation.Qualifies([]mutation.Record{insertRecord(empty)}) {
		t.Fatal("empty element qualified")
	}
	if !insertRecord(text).CarriesText() {
		t.Fatal("text node did not carry text")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"http": LevelHTTP, "": LevelHeadless, "Headful": LevelHeadful} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): got (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("lynx"); err == nil {
		t.Error("ParseLevel(lynx): expected error")
	}
}

func TestDisplaySocket(t *testing.T) {
	cases := []struct {
		display string
		want    string
		bad     bool
	}{
		{":99", "/tmp/.X11-unix/X99", false},
		{":1.0", "/tmp/.X11-unix/X1", false},
		{"localhost:7", "/tmp/.X11-unix/X7", false},
		{"99", "", true},
		{":x", "", true},
	}
	for _, c := range cases {
		got, err := displaySocket(c.display)
		if c.bad {
			if err == nil {
				t.Errorf("displaySocket(%q): got %q, want error", c.display, got)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("displaySocket(%q): got %q, %v, want %q", c.display, got, err, c.want)
		}
	}
}
