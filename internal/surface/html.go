package surface

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"scribe/api/internal/content"
)

const markerAttr = "data-citation"

var markerNumberPattern = regexp.MustCompile(`^[1-9][0-9]{0,8}$`)

// policy is the allow-list applied to every untrusted HTML input before it
// reaches the tree. Markup outside it is dropped; text content is kept.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(TagParagraph, TagDiv, TagBreak, TagStrong, TagEm, TagBold, TagItalic, TagUnderline)
	p.AllowAttrs(markerAttr).Matching(markerNumberPattern).OnElements("span")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^citation( unresolved)?$`)).OnElements("span")
	return p
}

// Sanitize applies the allow-list policy to an HTML fragment.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// ParseHTML sanitizes untrusted HTML and converts it to a tree. Marker spans
// (<span data-citation="n">) become marker nodes; resolved state is left for
// the caller to fill in with Resolve.
func ParseHTML(input string) (*Node, error) {
	clean := Sanitize(input)
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(clean), context)
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}
	root := NewRoot()
	for _, n := range nodes {
		if converted := convertHTML(n); converted != nil {
			root.Children = append(root.Children, converted)
		}
	}
	return root, nil
}

func convertHTML(n *html.Node) *Node {
	switch n.Type {
	case html.TextNode:
		return NewText(n.Data)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if tag == "span" {
			if number, ok := markerNumber(n); ok {
				return NewMarker(number, false)
			}
		}
		children := make([]*Node, 0)
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if converted := convertHTML(child); converted != nil {
				children = append(children, converted)
			}
		}
		if _, ok := blockTags[tag]; ok {
			return NewBlock(tag, children...)
		}
		if _, ok := inlineTags[tag]; ok {
			return NewInline(tag, children...)
		}
		return NewInline("", children...)
	default:
		return nil
	}
}

func markerNumber(n *html.Node) (int, bool) {
	for _, attr := range n.Attr {
		if attr.Key != markerAttr || !markerNumberPattern.MatchString(attr.Val) {
			continue
		}
		number, err := strconv.Atoi(attr.Val)
		if err != nil {
			return 0, false
		}
		return number, true
	}
	return 0, false
}

// RenderHTML serializes a tree for the host UI. No whitespace is emitted
// between blocks, so parsing the output back yields the same extraction.
func RenderHTML(root *Node) string {
	var b strings.Builder
	renderHTML(&b, root)
	return b.String()
}

func renderHTML(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindText:
		b.WriteString(html.EscapeString(n.Text))
	case KindMarker:
		class := "citation"
		if !n.Resolved {
			class += " unresolved"
		}
		fmt.Fprintf(b, `<span class="%s" %s="%d" contenteditable="false">%s</span>`,
			class, markerAttr, n.Number, content.Marker(n.Number))
	case KindBlock:
		if n.Tag == TagBreak {
			b.WriteString("<br>")
			return
		}
		tag := n.Tag
		if _, ok := blockTags[tag]; !ok {
			tag = TagParagraph
		}
		fmt.Fprintf(b, "<%s>", tag)
		renderChildren(b, n)
		fmt.Fprintf(b, "</%s>", tag)
	case KindInline:
		if _, ok := inlineTags[n.Tag]; !ok {
			renderChildren(b, n)
			return
		}
		fmt.Fprintf(b, "<%s>", n.Tag)
		renderChildren(b, n)
		fmt.Fprintf(b, "</%s>", n.Tag)
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *Node) {
	for _, child := range n.Children {
		renderHTML(b, child)
	}
}
