// Package export renders a highlighted document for reading outside the
// page: as Markdown, with highlights as strong emphasis, or as a
// script-free reader view that keeps the highlight styling.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/scanner"
)

// Exporter holds the Markdown converter and the reader policy. It is safe
// for concurrent use.
type Exporter struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New builds an Exporter.
func New() *Exporter {
	return &Exporter{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: ReaderPolicy(),
	}
}

// ReaderPolicy is bluemonday's UGC policy plus highlight annotations:
// spans may keep the highlight class and its visual declarations.
func ReaderPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile("^" + regexp.QuoteMeta(highlight.Class) + "$")).OnElements("span")
	p.AllowStyles(
		"background-color", "color",
		"font-weight", "font-style",
		"text-decoration", "text-decoration-color", "text-decoration-thickness",
		"border-bottom", "border-radius", "padding", "display",
	).OnElements("span")
	p.AllowElements("main", "section", "article", "header", "footer", "nav", "figure", "figcaption")
	return p
}

// Markdown converts doc's body. Highlights become **strong** text and
// in-page UI is dropped. domain resolves relative links; it may be empty.
func (e *Exporter) Markdown(doc *dom.Document, domain string) (string, error) {
	body := detached(doc)
	for _, span := range dom.FindAll(body, dom.HasClassFunc(highlight.Class)) {
		span.Data, span.DataAtom, span.Attr = "strong", atom.Strong, nil
	}

	var opts []converter.ConvertOptionFunc
	if domain != "" {
		opts = append(opts, converter.WithDomain(domain))
	}
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(body)
	out, err := e.md.ConvertNode(root, opts...)
	if err != nil {
		return "", fmt.Errorf("export: markdown: %w", err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// Reader renders doc's body through ReaderPolicy: scripts, handlers and
// in-page UI are gone, highlights stay styled.
func (e *Exporter) Reader(doc *dom.Document) ([]byte, error) {
	body := detached(doc)
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return nil, fmt.Errorf("export: reader: %w", err)
		}
	}
	return e.policy.SanitizeBytes(buf.Bytes()), nil
}

// Output formats accepted by Write.
const (
	FormatHTML     = "html"
	FormatReader   = "reader"
	FormatMarkdown = "markdown"
)

// ErrFormat is returned for an unknown output format.
var ErrFormat = errors.New("export: format must be html, reader or markdown")

// ContentType maps a format to its media type. An empty format is html.
func ContentType(format string) (string, error) {
	switch format {
	case "", FormatHTML, FormatReader:
		return "text/html; charset=utf-8", nil
	case FormatMarkdown, "md":
		return "text/markdown; charset=utf-8", nil
	}
	return "", ErrFormat
}

// Write renders doc to w in format. pageURL resolves relative Markdown
// links.
func (e *Exporter) Write(w io.Writer, doc *dom.Document, format, pageURL string) error {
	switch format {
	case "", FormatHTML:
		return doc.Render(w)
	case FormatReader:
		out, err := e.Reader(doc)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case FormatMarkdown, "md":
		md, err := e.Markdown(doc, origin(pageURL))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, md+"\n")
		return err
	}
	return ErrFormat
}

func origin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// detached copies doc's body without the in-page UI.
func detached(doc *dom.Document) *html.Node {
	body := dom.Clone(doc.Body())
	for _, ui := range dom.FindAll(body, func(n *html.Node) bool { return dom.HasAttr(n, scanner.UIAttr) }) {
		if ui.Parent != nil {
			ui.Parent.RemoveChild(ui)
		}
	}
	return body
}
