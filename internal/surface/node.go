// Package surface translates canonical draft content to and from an editable
// node tree in which every citation marker is an atomic, non-editable node.
package surface

type Kind string

const (
	KindRoot   Kind = "root"
	KindText   Kind = "text"
	KindMarker Kind = "citation"
	KindBlock  Kind = "block"
	KindInline Kind = "inline"
)

// Block and inline tags the surface understands. Anything else is reduced to
// a plain container whose identity is discarded on extraction.
const (
	TagParagraph = "p"
	TagDiv       = "div"
	TagBreak     = "br"

	TagStrong    = "strong"
	TagEm        = "em"
	TagBold      = "b"
	TagItalic    = "i"
	TagUnderline = "u"
)

var blockTags = map[string]struct{}{
	TagParagraph: {},
	TagDiv:       {},
	TagBreak:     {},
}

var inlineTags = map[string]struct{}{
	TagStrong:    {},
	TagEm:        {},
	TagBold:      {},
	TagItalic:    {},
	TagUnderline: {},
}

// Node is one element of the editable tree. Marker nodes carry Number and
// Resolved; their Children are never read.
type Node struct {
	Kind     Kind
	Tag      string
	Text     string
	Number   int
	Resolved bool
	Children []*Node
}

func NewText(text string) *Node {
	return &Node{Kind: KindText, Text: text}
}

func NewMarker(number int, resolved bool) *Node {
	return &Node{Kind: KindMarker, Number: number, Resolved: resolved}
}

func NewBlock(tag string, children ...*Node) *Node {
	return &Node{Kind: KindBlock, Tag: tag, Children: children}
}

func NewInline(tag string, children ...*Node) *Node {
	return &Node{Kind: KindInline, Tag: tag, Children: children}
}

func NewRoot(children ...*Node) *Node {
	return &Node{Kind: KindRoot, Children: children}
}

// Clone deep-copies a subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return &out
}

// Walk visits nodes depth-first, parents before children. Returning false
// from fn skips the node's children. Marker children are never visited.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) || n.Kind == KindMarker {
		return
	}
	for _, child := range n.Children {
		Walk(child, fn)
	}
}

// Markers lists marker numbers in document order, duplicates included.
func Markers(root *Node) []int {
	numbers := make([]int, 0)
	Walk(root, func(n *Node) bool {
		if n.Kind == KindMarker {
			numbers = append(numbers, n.Number)
		}
		return true
	})
	return numbers
}

// Resolve refreshes each marker's resolved state against a set of citation
// numbers.
func Resolve(root *Node, numbers map[int]struct{}) {
	Walk(root, func(n *Node) bool {
		if n.Kind == KindMarker {
			_, n.Resolved = numbers[n.Number]
		}
		return true
	})
}

// RemoveMarker deletes the occurrence-th (zero based) marker carrying number.
// It reports whether a node was removed.
func RemoveMarker(root *Node, number, occurrence int) bool {
	seen := 0
	var remove func(parent *Node) bool
	remove = func(parent *Node) bool {
		if parent.Kind == KindMarker {
			return false
		}
		for i, child := range parent.Children {
			if child.Kind == KindMarker && child.Number == number {
				if seen == occurrence {
					parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
					return true
				}
				seen++
				continue
			}
			if remove(child) {
				return true
			}
		}
		return false
	}
	if root == nil {
		return false
	}
	return remove(root)
}
