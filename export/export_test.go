package export

import (
	"strings"
	"testing"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/scanner"
)

func highlighted(t *testing.T, src string, phrases ...string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := phrase.NewMap()
	for i := 0; i+1 < len(phrases); i += 2 {
		_ = m.Set(phrases[i], phrases[i+1])
	}
	highlight.New(doc, nil).Apply(phrase.Settings{Phrases: m, Enabled: true})
	return doc
}

func TestMarkdown_HighlightsAsStrong(t *testing.T) {
	doc := highlighted(t,
		`<html><body><h1>Notes</h1><p>The cat sat on the mat.</p><div `+scanner.UIAttr+`="toast">Saved "cat"</div></body></html>`,
		"cat", "background-color: yellow;")

	md, err := New().Markdown(doc, "")
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if !strings.Contains(md, "# Notes") {
		t.Fatalf("heading missing:\n%s", md)
	}
	if !strings.Contains(md, "The **cat** sat on the mat.") {
		t.Fatalf("highlight not emphasised:\n%s", md)
	}
	if strings.Contains(md, "Saved") {
		t.Fatalf("UI text exported:\n%s", md)
	}
	if doc.Body().FirstChild == nil || dom.FindFirst(doc.Root(), dom.HasClassFunc(highlight.Class)) == nil {
		t.Fatal("export modified the live document")
	}
}

func TestReader_KeepsHighlightDropsScripts(t *testing.T) {
	doc := highlighted(t,
		`<html><body><p onclick="x()">The cat sat.</p><script>alert(1)</script></body></html>`,
		"cat", "background-color: yellow;")

	out, err := New().Reader(doc)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "<script") || strings.Contains(s, "onclick") {
		t.Fatalf("unsafe markup kept: %s", s)
	}
	if !strings.Contains(s, `class="`+highlight.Class+`"`) {
		t.Fatalf("highlight class dropped: %s", s)
	}
	if !strings.Contains(s, "background-color") {
		t.Fatalf("highlight style dropped: %s", s)
	}
}

func TestReaderPolicy_RejectsForeignClasses(t *testing.T) {
	out := ReaderPolicy().Sanitize(`<span class="evil">x</span>`)
	if strings.Contains(out, "evil") {
		t.Fatalf("foreign class kept: %s", out)
	}
}

func TestWrite_Formats(t *testing.T) {
	doc := highlighted(t, `<html><body><p>See <a href="/docs">the cat docs</a>.</p></body></html>`, "cat", "color: red;")
	e := New()

	var md strings.Builder
	if err := e.Write(&md, doc, FormatMarkdown, "https://example.test/a/b"); err != nil {
		t.Fatalf("Write markdown: %v", err)
	}
	if !strings.Contains(md.String(), "https://example.test/docs") {
		t.Errorf("relative link not resolved:\n%s", md.String())
	}

	var h strings.Builder
	if err := e.Write(&h, doc, "", ""); err != nil {
		t.Fatalf("Write html: %v", err)
	}
	if !strings.Contains(h.String(), `class="`+highlight.Class+`"`) {
		t.Errorf("html lost the annotation:\n%s", h.String())
	}

	if err := e.Write(&h, doc, "pdf", ""); err != ErrFormat {
		t.Fatalf("Write pdf: got %v, want ErrFormat", err)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"":         "text/html; charset=utf-8",
		"reader":   "text/html; charset=utf-8",
		"markdown": "text/markdown; charset=utf-8",
	}
	for in, want := range cases {
		if got, err := ContentType(in); err != nil || got != want {
			t.Errorf("ContentType(%q): got (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := ContentType("docx"); err != ErrFormat {
		t.Fatalf("ContentType(docx): got %v", err)
	}
}
