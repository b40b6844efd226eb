package surface

import (
	"encoding/json"
	"fmt"
	"math"

	"scribe/api/internal/content"
)

// ProseMirrorNode is the wire shape of a tree node exchanged with the host
// editor.
type ProseMirrorNode struct {
	Type    string            `json:"type"`
	Attrs   map[string]any    `json:"attrs,omitempty"`
	Content []ProseMirrorNode `json:"content,omitempty"`
	Text    string            `json:"text,omitempty"`
	Marks   []ProseMirrorMark `json:"marks,omitempty"`
}

// ProseMirrorMark represents a text mark (formatting)
type ProseMirrorMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

const (
	pmDoc       = "doc"
	pmText      = "text"
	pmCitation  = "citation"
	pmParagraph = "paragraph"
	pmHardBreak = "hardBreak"
	pmDiv       = "div"
)

// Block-level node types from richer schemas are folded into div so they
// still separate lines on extraction.
var pmBlockTags = map[string]string{
	pmParagraph:  TagParagraph,
	pmHardBreak:  TagBreak,
	pmDiv:        TagDiv,
	"heading":    TagDiv,
	"blockquote": TagDiv,
	"codeBlock":  TagDiv,
	"listItem":   TagDiv,
}

var pmMarkTags = map[string]string{
	"bold":      TagStrong,
	"italic":    TagEm,
	"underline": TagUnderline,
}

var tagMarks = map[string]string{
	TagStrong:    "bold",
	TagBold:      "bold",
	TagEm:        "italic",
	TagItalic:    "italic",
	TagUnderline: "underline",
}

// MarshalJSON always produces a doc node; a non-root subtree is wrapped.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToProseMirror(n))
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var pm ProseMirrorNode
	if err := json.Unmarshal(data, &pm); err != nil {
		return fmt.Errorf("decode surface tree: %w", err)
	}
	converted := FromProseMirror(pm)
	if converted == nil {
		*n = Node{Kind: KindRoot}
		return nil
	}
	*n = *converted
	return nil
}

// ToProseMirror converts a tree to its wire form.
func ToProseMirror(n *Node) ProseMirrorNode {
	nodes := toProseMirror(n, nil)
	if len(nodes) == 1 && nodes[0].Type == pmDoc {
		return nodes[0]
	}
	return ProseMirrorNode{Type: pmDoc, Content: nodes}
}

func toProseMirror(n *Node, marks []ProseMirrorMark) []ProseMirrorNode {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindRoot:
		return []ProseMirrorNode{{Type: pmDoc, Content: childrenToProseMirror(n, marks)}}
	case KindText:
		if n.Text == "" {
			return nil
		}
		return []ProseMirrorNode{{Type: pmText, Text: n.Text, Marks: copyMarks(marks)}}
	case KindMarker:
		return []ProseMirrorNode{{
			Type:  pmCitation,
			Attrs: map[string]any{"number": n.Number, "resolved": n.Resolved},
			Marks: copyMarks(marks),
		}}
	case KindBlock:
		nodeType := pmParagraph
		switch n.Tag {
		case TagBreak:
			return []ProseMirrorNode{{Type: pmHardBreak}}
		case TagDiv:
			nodeType = pmDiv
		}
		return []ProseMirrorNode{{Type: nodeType, Content: childrenToProseMirror(n, marks)}}
	default:
		if mark, ok := tagMarks[n.Tag]; ok {
			marks = append(copyMarks(marks), ProseMirrorMark{Type: mark})
		}
		return childrenToProseMirror(n, marks)
	}
}

func childrenToProseMirror(n *Node, marks []ProseMirrorMark) []ProseMirrorNode {
	out := make([]ProseMirrorNode, 0, len(n.Children))
	for _, child := range n.Children {
		out = append(out, toProseMirror(child, marks)...)
	}
	return out
}

func copyMarks(marks []ProseMirrorMark) []ProseMirrorMark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]ProseMirrorMark, len(marks))
	copy(out, marks)
	return out
}

// FromProseMirror converts wire JSON to a tree. Unknown node types become
// plain containers and unknown marks are dropped.
func FromProseMirror(pm ProseMirrorNode) *Node {
	switch pm.Type {
	case pmDoc:
		return &Node{Kind: KindRoot, Children: childrenFromProseMirror(pm.Content)}
	case pmText:
		if pm.Text == "" {
			return nil
		}
		return wrapMarks(NewText(pm.Text), pm.Marks)
	case pmCitation:
		number, ok := attrInt(pm.Attrs, "number")
		if !ok || number < 1 {
			return nil
		}
		resolved, _ := pm.Attrs["resolved"].(bool)
		return wrapMarks(NewMarker(number, resolved), pm.Marks)
	}
	if tag, ok := pmBlockTags[pm.Type]; ok {
		return NewBlock(tag, childrenFromProseMirror(pm.Content)...)
	}
	return NewInline("", childrenFromProseMirror(pm.Content)...)
}

func childrenFromProseMirror(items []ProseMirrorNode) []*Node {
	children := make([]*Node, 0, len(items))
	for _, item := range items {
		if child := FromProseMirror(item); child != nil {
			children = append(children, child)
		}
	}
	return children
}

func wrapMarks(leaf *Node, marks []ProseMirrorMark) *Node {
	wrapped := leaf
	for i := len(marks) - 1; i >= 0; i-- {
		tag, ok := pmMarkTags[marks[i].Type]
		if !ok {
			continue
		}
		wrapped = NewInline(tag, wrapped)
	}
	return wrapped
}

// attrInt reads a marker number; values Tokens would not read back as a
// marker are rejected.
func attrInt(attrs map[string]any, key string) (int, bool) {
	switch v := attrs[key].(type) {
	case float64:
		if v != math.Trunc(v) || v > content.MaxMarkerNumber {
			return 0, false
		}
		return int(v), true
	case int:
		if v > content.MaxMarkerNumber {
			return 0, false
		}
		return v, true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil || parsed > content.MaxMarkerNumber {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}
