package sapling

import (
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrNoTree is returned when a buffer has no cached tree.
var ErrNoTree = errors.New("sapling: no tree for buffer")

// Node describes one syntax node of a buffer.
type Node struct {
	Type       string       `json:"type"`
	StartByte  uint32       `json:"start_byte"`
	EndByte    uint32       `json:"end_byte"`
	StartPoint sitter.Point `json:"start_point"`
	EndPoint   sitter.Point `json:"end_point"`
	Text       string       `json:"text"`
	HasError   bool         `json:"has_error"`
}

// Query runs a tree-sitter query pattern over the current tree of a buffer.
// It returns ErrNoTree when the buffer is not cached.
func (e *Engine) Query(id int64, pattern string) ([]Match, error) {
	tree, ok := e.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("query buffer %d: %w", id, ErrNoTree)
	}
	matches, err := tree.Query(pattern, nil)
	if err != nil {
		return nil, fmt.Errorf("query buffer %d: %w", id, err)
	}
	return matches, nil
}

// NodeAt returns the smallest named node of a buffer's tree containing the
// byte offset. ok is false when the offset is past the end of the text.
func (e *Engine) NodeAt(id int64, offset uint32) (node Node, ok bool, err error) {
	tree, cached := e.cache.Get(id)
	if !cached {
		return Node{}, false, fmt.Errorf("node at buffer %d: %w", id, ErrNoTree)
	}
	n := tree.NodeAt(offset)
	if n == nil {
		return Node{}, false, nil
	}
	return describe(tree, n), true, nil
}

func describe(tree *Tree, n *sitter.Node) Node {
	return Node{
		Type:       n.Type(),
		StartByte:  n.StartByte(),
		EndByte:    n.EndByte(),
		StartPoint: n.StartPoint(),
		EndPoint:   n.EndPoint(),
		Text:       tree.Text(n),
		HasError:   n.HasError(),
	}
}
