// Package html converts filing HTML into paragraph-structured plain text.
package html

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags are elements whose boundaries become paragraph breaks.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "table": true, "blockquote": true, "pre": true,
	"section": true, "article": true,
}

var (
	multiSpaces   = regexp.MustCompile(`[ \t\x{00a0}]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// Normaliser converts HTML filing documents to plain text.
type Normaliser struct{}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Normalise strips markup and returns text whose paragraphs are separated by
// blank lines. EDGAR filings lean heavily on nested tables and divs, so
// paragraph boundaries come from block elements, not from source whitespace.
func (n *Normaliser) Normalise(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	doc.Find("script, style, noscript, svg, head, iframe").Remove()

	var sb strings.Builder
	for _, node := range doc.Selection.Nodes {
		renderText(node, &sb)
	}
	return tidy(sb.String()), nil
}

// renderText walks the node tree, emitting text content with paragraph
// breaks at block element boundaries.
func renderText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}

	isBlock := n.Type == html.ElementNode && blockTags[n.Data]
	if isBlock {
		sb.WriteString("\n\n")
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderText(child, sb)
	}
	if isBlock {
		sb.WriteString("\n\n")
	}
}

// tidy collapses runs of whitespace: spaces within lines, blank lines
// between paragraphs.
func tidy(text string) string {
	text = multiSpaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
