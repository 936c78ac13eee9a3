package lot

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func findByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if v, ok := attr(n, "id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

func findAllByClass(doc *html.Node, class string) []*html.Node {
	var nodes []*html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasClass(n, class) {
			nodes = append(nodes, n)
		}
		return true
	})
	return nodes
}

// embeddedJSON returns the JSON carried by a node, preferring data-json over
// the text content. html.Parse already decodes entities in both.
func embeddedJSON(n *html.Node) string {
	if v, ok := attr(n, "data-json"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return textContent(n)
}

// nextPageURL finds the CMS "next page" link and resolves it against base.
func nextPageURL(doc *html.Node, base *url.URL) string {
	matchers := []func(*html.Node) bool{
		func(n *html.Node) bool {
			return hasClass(n, "w-pagination-next") &&
				!hasClass(n, "w-pagination-next-disabled") &&
				!hasClass(n, "w--pagination-disabled")
		},
		func(n *html.Node) bool {
			v, _ := attr(n, "aria-disabled")
			return hasClass(n, "w-pagination-next") && v != "true"
		},
		func(n *html.Node) bool {
			v, _ := attr(n, "rel")
			return n.Data == "a" && v == "next"
		},
	}

	for _, match := range matchers {
		var next *html.Node
		walk(doc, func(n *html.Node) bool {
			if n.Type == html.ElementNode && match(n) {
				next = n
				return false
			}
			return true
		})
		if next == nil {
			continue
		}
		href, ok := attr(next, "href")
		if !ok || href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	}
	return ""
}

// pageKey identifies a page for loop detection: everything but the fragment.
func pageKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}
