package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedElements are non-content tags whose subtrees never contribute
// body text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"head":     true,
}

// blockElements end a rendered line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "blockquote": true, "table": true, "ul": true,
	"ol": true,
}

// htmlToText renders HTML to plain text. Each block-level element
// becomes its own line and blank lines are dropped. An unparseable
// document yields "" so the caller can fall back to the plain-text
// part.
func htmlToText(source string) string {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedElements[strings.ToLower(n.Data)] {
				return
			}
		case html.TextNode:
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if b.Len() > 0 && !endsWithSeparator(&b) {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blockElements[strings.ToLower(n.Data)] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	return dropBlankLines(b.String())
}

// endsWithSeparator reports whether the builder already ends in
// whitespace, so text nodes are not glued together.
func endsWithSeparator(b *strings.Builder) bool {
	s := b.String()
	last := s[len(s)-1]
	return last == ' ' || last == '\n'
}

// dropBlankLines trims each line and removes the empty ones, so nested
// block elements cannot stack separator lines between text.
func dropBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
