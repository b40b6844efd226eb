package surface

import (
	"strings"

	"scribe/api/internal/content"
)

// Render builds the editable tree for canonical content. Each line becomes a
// paragraph; each [n] token becomes an atomic marker node.
func Render(text string, citations []content.Citation) *Node {
	numbers := content.Numbers(citations)
	lines := strings.Split(text, "\n")
	root := &Node{Kind: KindRoot, Children: make([]*Node, 0, len(lines))}
	for _, line := range lines {
		root.Children = append(root.Children, NewBlock(TagParagraph, inlineNodes(line, numbers)...))
	}
	return root
}

func inlineNodes(line string, numbers map[int]struct{}) []*Node {
	tokens := content.Tokens(line)
	nodes := make([]*Node, 0, 2*len(tokens)+1)
	last := 0
	for _, tok := range tokens {
		if tok.Start > last {
			nodes = append(nodes, NewText(line[last:tok.Start]))
		}
		_, resolved := numbers[tok.Number]
		nodes = append(nodes, NewMarker(tok.Number, resolved))
		last = tok.End
	}
	if last < len(line) {
		nodes = append(nodes, NewText(line[last:]))
	}
	return nodes
}

// Extract walks an edited tree and produces canonical content. Markers always
// emit their own token regardless of surrounding edits; block nodes end with
// a newline; unknown containers only contribute their children.
func Extract(root *Node) string {
	var b strings.Builder
	extractNode(&b, root)
	return strings.TrimSpace(b.String())
}

func extractNode(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindText:
		b.WriteString(n.Text)
	case KindMarker:
		b.WriteString(content.Marker(n.Number))
	case KindBlock:
		for _, child := range n.Children {
			extractNode(b, child)
		}
		b.WriteByte('\n')
	default:
		for _, child := range n.Children {
			extractNode(b, child)
		}
	}
}
