package scraper

import (
	"io"
	"regexp"
	"strings"
	"unicode"

	"openrecords-be/pkg/utils"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// Elements dropped with everything inside them.
var removed = map[atom.Atom]bool{
	atom.Nav: true, atom.Footer: true, atom.Header: true, atom.Aside: true,
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Iframe: true,
	atom.Form: true, atom.Button: true, atom.Input: true, atom.Select: true,
	atom.Textarea: true, atom.Svg: true, atom.Canvas: true, atom.Video: true,
	atom.Audio: true, atom.Img: true, atom.Template: true,
}

// Elements whose text becomes one paragraph of output.
var blocks = map[atom.Atom]int{
	atom.P: 0, atom.Li: 0, atom.Td: 0, atom.Th: 0,
	atom.Blockquote: 0, atom.Pre: 0, atom.Code: 0,
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// extract returns the page title and the text of its main content area.
func extract(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	title := ""
	if t := find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); t != nil {
		title = textOf(t)
	}

	root := contentRoot(doc)
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if removed[n.DataAtom] {
				return
			}
			if level, ok := blocks[n.DataAtom]; ok {
				if text := textOf(n); text != "" {
					if level > 0 {
						text = strings.Repeat("#", level) + " " + text
					}
					parts = append(parts, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, strings.Join(parts, "\n\n"), nil
}

// contentRoot picks the first article, main, section or role=main element,
// falling back to the body.
func contentRoot(doc *html.Node) *html.Node {
	candidates := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.Article },
		func(n *html.Node) bool { return n.DataAtom == atom.Main },
		func(n *html.Node) bool { return n.DataAtom == atom.Section },
		func(n *html.Node) bool { return n.DataAtom == atom.Div && attr(n, "role") == "main" },
		func(n *html.Node) bool { return n.DataAtom == atom.Body },
	}
	for _, match := range candidates {
		if n := find(doc, match); n != nil {
			return n
		}
	}
	return doc
}

// find is a depth-first search that does not enter removed elements.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode {
		if match(n) {
			return n
		}
		if removed[n.DataAtom] {
			return nil
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf joins the text below n with single spaces.
func textOf(n *html.Node) string {
	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words = append(words, strings.Fields(n.Data)...)
		case html.ElementNode:
			if removed[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(words, " ")
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalises text to NFKC, drops control characters other than
// newline and tab, and collapses runs of whitespace. A positive maxTokens
// caps the result.
func Sanitize(text string, maxTokens int) string {
	text = norm.NFKC.String(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if maxTokens > 0 {
		text = utils.TruncateTokens(text, maxTokens)
	}
	return text
}
