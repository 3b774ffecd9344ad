package dom

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/mutation"
)

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func bodyHTML(t *testing.T, d *Document) string {
	t.Helper()
	var b strings.Builder
	for c := d.Body().FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	return b.String()
}

func firstText(n *html.Node) *html.Node {
	return FindFirst(n, func(c *html.Node) bool { return c.Type == html.TextNode })
}

func TestObserve_RecordsDeliveredOnFlush(t *testing.T) {
	d := mustParse(t, "<p>hello</p>")
	var got []mutation.Record
	d.Observe(func(r []mutation.Record) { got = append(got, r...) })

	p := FindFirst(d.Root(), IsTag(atom.P))
	d.AppendChild(p, NewText(" world"))
	if len(got) != 0 {
		t.Fatalf("records before flush: got %d, want 0", len(got))
	}
	if n := d.Flush(); n != 1 {
		t.Fatalf("Flush: got %d, want 1", n)
	}
	if got[0].Op != mutation.OpInsert || got[0].Text != " world" {
		t.Errorf("record: got %+v", got[0])
	}
	if got[0].XPath != "/html/body/p/text()" {
		t.Errorf("XPath: got %q", got[0].XPath)
	}
}

func TestQuiet_SuppressesRecords(t *testing.T) {
	d := mustParse(t, "<p>hello</p>")
	calls := 0
	d.Observe(func([]mutation.Record) { calls++ })

	d.Quiet(func() {
		d.AppendChild(d.Body(), NewElement("div"))
	})
	d.Flush()
	if calls != 0 {
		t.Fatalf("observer calls: got %d, want 0", calls)
	}
}

func TestObserve_Disconnect(t *testing.T) {
	d := mustParse(t, "<p>hello</p>")
	calls := 0
	stop := d.Observe(func([]mutation.Record) { calls++ })
	stop()
	stop()

	d.AppendChild(d.Body(), NewText("x"))
	d.Flush()
	if calls != 0 {
		t.Fatalf("observer calls after disconnect: got %d, want 0", calls)
	}
}

func TestNormalize_MergesAndDropsEmpty(t *testing.T) {
	d := mustParse(t, "<p>a</p>")
	p := FindFirst(d.Root(), IsTag(atom.P))
	d.AppendChild(p, NewText(""))
	d.AppendChild(p, NewText("b"))
	d.AppendChild(p, NewText("c"))

	d.Normalize(p)
	if ChildCount(p) != 1 {
		t.Fatalf("children: got %d, want 1", ChildCount(p))
	}
	if p.FirstChild.Data != "abc" {
		t.Errorf("text: got %q, want %q", p.FirstChild.Data, "abc")
	}
}

func TestUnwrap(t *testing.T) {
	d := mustParse(t, "<p>a<b>b</b>c</p>")
	d.Unwrap(FindFirst(d.Root(), IsTag(atom.B)))
	if got := bodyHTML(t, d); got != "<p>abc</p>" {
		t.Errorf("got %q", got)
	}
}

func TestStyleProperty(t *testing.T) {
	d := mustParse(t, `<span style="color: red; display:inline">x</span>`)
	s := FindFirst(d.Root(), IsTag(atom.Span))

	if got := StyleProperty(s, "display"); got != "inline" {
		t.Fatalf("display: got %q, want inline", got)
	}
	d.SetStyleProperty(s, "display", "none")
	if got := StyleProperty(s, "display"); got != "none" {
		t.Fatalf("display after set: got %q, want none", got)
	}
	if got := StyleProperty(s, "color"); got != "red" {
		t.Fatalf("color: got %q, want red", got)
	}
	d.SetStyleProperty(s, "display", "")
	d.SetStyleProperty(s, "color", "")
	if HasAttr(s, "style") {
		t.Error("style attribute should be dropped when empty")
	}
}

func TestClasses(t *testing.T) {
	d := mustParse(t, `<div class="a">x</div>`)
	div := FindFirst(d.Root(), IsTag(atom.Div))
	d.AddClass(div, "b")
	if !HasClass(div, "a") || !HasClass(div, "b") {
		t.Fatalf("classes: got %v", div.Attr)
	}
	d.RemoveClass(div, "a")
	d.RemoveClass(div, "b")
	if HasAttr(div, "class") {
		t.Error("class attribute should be dropped when empty")
	}
}

func TestXPath_SiblingIndex(t *testing.T) {
	d := mustParse(t, "<div><p>1</p><p>2</p><span>3</span></div>")
	ps := FindAll(d.Root(), IsTag(atom.P))
	if got := XPath(ps[1]); got != "/html/body/div/p[2]" {
		t.Errorf("second p: got %q", got)
	}
	if got := XPath(FindFirst(d.Root(), IsTag(atom.Span))); got != "/html/body/div/span" {
		t.Errorf("span: got %q", got)
	}
}

func TestRangeText_AcrossNodes(t *testing.T) {
	d := mustParse(t, "<p>hello <b>big</b> world</p>")
	p := FindFirst(d.Root(), IsTag(atom.P))
	r := SpanRange(p.FirstChild, 2, p.LastChild, 3)
	if got := d.RangeText(r); got != "llo big wo" {
		t.Errorf("got %q", got)
	}
}

func TestSelectedText_Trimmed(t *testing.T) {
	d := mustParse(t, "<p>  hello  </p>")
	tn := firstText(d.Body())
	r := TextRange(tn, 0, len(tn.Data))
	d.SetSelection(&r)
	if got := d.SelectedText(); got != "hello" {
		t.Errorf("got %q, want hello", got)
	}
	d.ClearSelection()
	if got := d.SelectedText(); got != "" {
		t.Errorf("after clear: got %q", got)
	}
}

func TestSurroundContents_WithinText(t *testing.T) {
	d := mustParse(t, "<p>the quick fox</p>")
	tn := firstText(d.Body())
	r := TextRange(tn, 4, 9)
	d.SetSelection(&r)

	if err := d.SurroundContents(r, NewElement("mark")); err != nil {
		t.Fatalf("SurroundContents: %v", err)
	}
	if got := bodyHTML(t, d); got != "<p>the <mark>quick</mark> fox</p>" {
		t.Errorf("got %q", got)
	}
	if d.Selection() != nil {
		t.Error("selection should be cleared")
	}
}

func TestSurroundContents_WholeText(t *testing.T) {
	d := mustParse(t, "<p>fox</p>")
	tn := firstText(d.Body())
	if err := d.SurroundContents(TextRange(tn, 0, 3), NewElement("mark")); err != nil {
		t.Fatalf("SurroundContents: %v", err)
	}
	p := FindFirst(d.Root(), IsTag(atom.P))
	if ChildCount(p) != 1 {
		t.Fatalf("children: got %d, want 1 (no empty splits)", ChildCount(p))
	}
}

func TestSurroundContents_SiblingsInSameParent(t *testing.T) {
	d := mustParse(t, "<p>one <b>two</b> three</p>")
	p := FindFirst(d.Root(), IsTag(atom.P))
	r := SpanRange(p.FirstChild, 1, p.LastChild, 3)

	if err := d.SurroundContents(r, NewElement("mark")); err != nil {
		t.Fatalf("SurroundContents: %v", err)
	}
	if got := bodyHTML(t, d); got != "<p>o<mark>ne <b>two</b> th</mark>ree</p>" {
		t.Errorf("got %q", got)
	}
}

func TestSurroundContents_Partial(t *testing.T) {
	d := mustParse(t, "<p>one <b>two</b> three</p>")
	before := d.String()
	p := FindFirst(d.Root(), IsTag(atom.P))
	b := FindFirst(p, IsTag(atom.B))
	r := SpanRange(p.FirstChild, 1, b.FirstChild, 2)

	err := d.SurroundContents(r, NewElement("mark"))
	if !errors.Is(err, ErrPartialSelection) {
		t.Fatalf("err: got %v, want ErrPartialSelection", err)
	}
	if d.String() != before {
		t.Error("tree changed on failure")
	}
}

func TestSurroundContents_Reversed(t *testing.T) {
	d := mustParse(t, "<p>abcdef</p>")
	tn := firstText(d.Body())
	err := d.SurroundContents(TextRange(tn, 4, 2), NewElement("mark"))
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err: got %v, want ErrInvalidRange", err)
	}
}
