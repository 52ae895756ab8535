package htmlpage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

const (
	controlSelector = `input, textarea, select, mat-select, [role="combobox"], [role="listbox"], [role="checkbox"], [role="radio"]`
	proceedSelector = `button, a, input[type="submit"], input[type="button"], [role="button"]`
	optionSelector  = `[role="option"], mat-option`
)

// selectors caches compiled CSS selectors by source text.
var selectors sync.Map

func compile(sel string) (cascadia.Selector, error) {
	if cached, ok := selectors.Load(sel); ok {
		return cached.(cascadia.Selector), nil
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector '%s': %w", sel, err)
	}
	selectors.Store(sel, compiled)
	return compiled, nil
}

// queryAll returns the elements under root matching sel, in document order.
func queryAll(root *html.Node, sel string) ([]*html.Node, error) {
	if root == nil {
		return nil, nil
	}
	compiled, err := compile(sel)
	if err != nil {
		return nil, err
	}
	return compiled.MatchAll(root), nil
}

func mustQueryAll(root *html.Node, sel string) []*html.Node {
	nodes, err := queryAll(root, sel)
	if err != nil {
		panic(err)
	}
	return nodes
}

// xpathOf returns the handle of an element: an XPath anchored on the nearest
// ancestor id, or an absolute indexed path.
func xpathOf(node *html.Node) string {
	if node == nil {
		return ""
	}
	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if id := htmlquery.SelectAttr(n, "id"); id != "" && !strings.Contains(id, "'") {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}
	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func tagOf(n *html.Node) string { return strings.ToLower(n.Data) }

func inputType(n *html.Node) string {
	t := strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(n, "type")))
	if t == "" && tagOf(n) == "input" {
		return "text"
	}
	return t
}

// findAncestor returns the closest proper ancestor matching one of tags.
func findAncestor(n *html.Node, tags ...string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, t := range tags {
			if tagOf(p) == t {
				return p
			}
		}
	}
	return nil
}

// findParentForm resolves the form owner, honouring the form attribute.
func findParentForm(n *html.Node) *html.Node {
	if id := htmlquery.SelectAttr(n, "form"); id != "" {
		if form := byID(root(n), id); form != nil && tagOf(form) == "form" {
			return form
		}
	}
	return findAncestor(n, "form")
}

func root(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func byID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && htmlquery.SelectAttr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants in document order. Returning false from
// fn skips the children of that node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// -- Rendering approximations --

var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "noscript": true, "title": true, "meta": true, "link": true,
}

// hiddenSelf reports whether n alone suppresses its own box.
func hiddenSelf(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if nonRendered[tagOf(n)] || hasAttr(n, "hidden") {
		return true
	}
	if tagOf(n) == "input" && inputType(n) == "hidden" {
		return true
	}
	if tagOf(n) == "dialog" && !hasAttr(n, "open") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(htmlquery.SelectAttr(n, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// visible reports whether n would get a rendered box. Without a layout
// engine only markup-level hiding is detected.
func visible(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if hiddenSelf(p) {
			return false
		}
	}
	return true
}

// textOf returns the whitespace-collapsed rendered text under n.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.ElementNode:
			if c != n && hiddenSelf(c) {
				return false
			}
			switch tagOf(c) {
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "option":
				b.WriteByte(' ')
			}
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func optionValue(opt *html.Node) string {
	for _, a := range opt.Attr {
		if a.Key == "value" {
			return a.Val
		}
	}
	return textOf(opt)
}

func optionLabel(opt *html.Node) string {
	if label := textOf(opt); label != "" {
		return label
	}
	return htmlquery.SelectAttr(opt, "label")
}

// hasFormContent reports whether doc renders at least one candidate control.
func hasFormContent(doc *html.Node) bool {
	for _, n := range mustQueryAll(doc, controlSelector) {
		if tagOf(n) == "input" {
			switch inputType(n) {
			case "hidden", "submit", "button", "reset", "image":
				continue
			}
		}
		if visible(n) {
			return true
		}
	}
	return false
}

func countElements(doc *html.Node) int {
	count := 0
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			count++
		}
		return true
	})
	return count
}
