// Package htmlq is a small query layer over golang.org/x/net/html for the
// scraping sources: find elements by tag or class and read their text.
package htmlq

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse parses an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// Matcher selects element nodes.
type Matcher func(n *html.Node) bool

// Class matches elements whose class list contains name.
func Class(name string) Matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && slices.Contains(strings.Fields(Attr(n, "class")), name)
	}
}

// Tag matches elements of the given type.
func Tag(a atom.Atom) Matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	}
}

// FindAll returns every descendant of root (excluding root) matching m, in
// document order.
func FindAll(root *html.Node, m Matcher) []*html.Node {
	var out []*html.Node
	for n := range root.Descendants() {
		if m(n) {
			out = append(out, n)
		}
	}
	return out
}

// First returns the first descendant matching m, or nil.
func First(root *html.Node, m Matcher) *html.Node {
	for n := range root.Descendants() {
		if m(n) {
			return n
		}
	}
	return nil
}

// Children returns the direct element children of n matching m.
func Children(n *html.Node, m Matcher) []*html.Node {
	var out []*html.Node
	for c := range n.ChildNodes() {
		if m(c) {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
		}
	}
	return b.String()
}

// Attr returns the value of attribute key, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
