package syntax

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Capture is one named node captured by a query match.
type Capture struct {
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	StartByte  uint32       `json:"start_byte"`
	EndByte    uint32       `json:"end_byte"`
	StartPoint sitter.Point `json:"start_point"`
	EndPoint   sitter.Point `json:"end_point"`
	Text       string       `json:"text"`
	Node       *sitter.Node `json:"-"`
}

// Match holds the captures of a single pattern match, in capture order.
type Match []Capture

// Query runs a tree-sitter query pattern over node, which must belong to t.
// Predicates such as #eq? and #match? are applied against t's source.
func (t *Tree) Query(pattern string, node *sitter.Node) ([]Match, error) {
	if t == nil || t.raw == nil {
		return nil, nil
	}
	if node == nil {
		node = t.RootNode()
	}

	q, err := sitter.NewQuery([]byte(pattern), t.lang)
	if err != nil {
		return nil, fmt.Errorf("syntax: invalid query: %w", err)
	}
	defer q.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, node)

	var matches []Match
	for {
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		m = cursor.FilterPredicates(m, t.src)
		if len(m.Captures) == 0 {
			continue
		}
		match := make(Match, 0, len(m.Captures))
		for _, c := range m.Captures {
			n := c.Node
			match = append(match, Capture{
				Name:       q.CaptureNameForId(c.Index),
				Type:       n.Type(),
				StartByte:  n.StartByte(),
				EndByte:    n.EndByte(),
				StartPoint: n.StartPoint(),
				EndPoint:   n.EndPoint(),
				Text:       n.Content(t.src),
				Node:       n,
			})
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Walk visits node and its descendants depth-first in document order. fn
// returns false to skip a node's children.
func Walk(node *sitter.Node, fn func(n *sitter.Node, depth int) bool) {
	if node == nil {
		return
	}
	walk(node, 0, fn)
}

func walk(node *sitter.Node, depth int, fn func(*sitter.Node, int) bool) {
	if !fn(node, depth) {
		return
	}
	count := int(node.ChildCount())
	for i := 0; i < count; i++ {
		if child := node.Child(i); child != nil {
			walk(child, depth+1, fn)
		}
	}
}

// NodeAt returns the smallest named node of t whose byte range contains
// offset. The root is returned when no named descendant contains it.
func (t *Tree) NodeAt(offset uint32) *sitter.Node {
	node := t.RootNode()
	if node == nil || offset > node.EndByte() {
		return nil
	}
	for {
		var next *sitter.Node
		count := int(node.NamedChildCount())
		for i := 0; i < count; i++ {
			child := node.NamedChild(i)
			if child != nil && child.StartByte() <= offset && offset < child.EndByte() {
				next = child
				break
			}
		}
		if next == nil {
			return node
		}
		node = next
	}
}

// ErrorCount returns the number of ERROR and MISSING nodes in t.
func (t *Tree) ErrorCount() int {
	n := 0
	Walk(t.RootNode(), func(node *sitter.Node, _ int) bool {
		if node.IsMissing() || node.Type() == "ERROR" {
			n++
		}
		return true
	})
	return n
}
