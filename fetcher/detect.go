package fetcher

import (
	"bytes"

	"golang.org/x/net/html"
)

var spaShells = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether body carries enough visible text to be
// highlighted without running its scripts: at least 200 bytes of text, at
// least a tenth of the document, and no known SPA mount point.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	text, markup := textMarkupRatio(body)
	if text < 200 || float64(text)/float64(text+markup) < 0.10 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, shell := range spaShells {
		if bytes.Contains(lower, shell) {
			return false
		}
	}
	return true
}

// textMarkupRatio counts the bytes of visible text against everything else.
// Script and style bodies count as markup.
func textMarkupRatio(body []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		tt := z.Next()
		raw := len(z.Raw())
		switch tt {
		case html.ErrorToken:
			return text, markup
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if s := string(name); s == "script" || s == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			}
			markup += raw
		case html.TextToken:
			if skip > 0 {
				markup += raw
				continue
			}
			n := len(bytes.TrimSpace(z.Text()))
			text += n
			markup += raw - n
		default:
			markup += raw
		}
	}
}
