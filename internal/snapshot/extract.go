// Package snapshot condenses raw HTML into readable text. The
// completion check feeds page snapshots through it before asking the
// model whether a task is done, and the mailbox uses it to read
// HTML-only email bodies.
package snapshot

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements never contribute text: code and styling, embedded
// documents, and the navigation boilerplate that drowns out page
// content.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// Extract parses HTML and returns its title and readable body text.
// Malformed input degrades to a naive tag strip rather than an error;
// a lossy snapshot still beats none.
func Extract(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}

	var body strings.Builder
	walk(doc, &body, &title)
	return strings.TrimSpace(title), cleanWhitespace(body.String())
}

// Text returns only the readable body text.
func Text(raw string) string {
	_, text := Extract(raw)
	return text
}

// walk emits visible text depth-first. The <title> element is routed
// to the title return instead of the body.
func walk(n *html.Node, body *strings.Builder, title *string) {
	if n.Type == html.ElementNode {
		if n.DataAtom == atom.Title {
			if *title == "" {
				*title = textContent(n)
			}
			return
		}
		if skipElements[n.DataAtom] {
			return
		}
		if isBlock(n.DataAtom) && body.Len() > 0 {
			body.WriteString("\n\n")
		}
	}

	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			body.WriteString(t)
			body.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, body, title)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		body.WriteString("\n")
	}
}

// textContent concatenates all text beneath a node.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr, atom.Form, atom.Fieldset:
		return true
	}
	return false
}

// cleanWhitespace collapses intra-line runs and consecutive blank
// lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// stripTags drops everything except text tokens. Fallback for input
// the parser rejects.
func stripTags(s string) string {
	tz := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return cleanWhitespace(b.String())
		case html.TextToken:
			b.WriteString(tz.Token().Data)
			b.WriteString(" ")
		}
	}
}
