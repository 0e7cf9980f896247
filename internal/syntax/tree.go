// Package syntax wraps tree-sitter parsing for sapling: full parses, edit
// application against a prior tree, and read helpers over the result.
package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Tree is a parse result paired with the exact source bytes it describes.
//
// A Tree is never mutated after it is returned. Edits are applied to a copy
// of the underlying tree-sitter tree, so a Tree handed to a reader stays
// valid while newer trees for the same buffer are produced.
//
// Reading nodes writes to a node cache inside the tree-sitter tree, so one
// Tree must not be walked from two goroutines at once. Give each goroutine
// its own Copy.
type Tree struct {
	raw  *sitter.Tree
	src  []byte
	lang *sitter.Language
}

// Raw returns the underlying tree-sitter Tree.
func (t *Tree) Raw() *sitter.Tree {
	if t == nil {
		return nil
	}
	return t.raw
}

// Copy returns a Tree over its own copy of the tree-sitter tree, sharing
// the source and grammar. The copy is cheap: tree-sitter shares the nodes.
func (t *Tree) Copy() *Tree {
	if t == nil || t.raw == nil {
		return t
	}
	return &Tree{raw: t.raw.Copy(), src: t.src, lang: t.lang}
}

// RootNode returns the root node of the parse tree.
func (t *Tree) RootNode() *sitter.Node {
	if t == nil || t.raw == nil {
		return nil
	}
	return t.raw.RootNode()
}

// Source returns the text the tree was parsed from. Callers must not modify
// the returned slice.
func (t *Tree) Source() []byte {
	if t == nil {
		return nil
	}
	return t.src
}

// Language returns the grammar the tree was parsed with.
func (t *Tree) Language() *sitter.Language {
	if t == nil {
		return nil
	}
	return t.lang
}

// HasError reports whether the tree contains ERROR or MISSING nodes.
func (t *Tree) HasError() bool {
	root := t.RootNode()
	return root != nil && root.HasError()
}

// String returns the root node as an s-expression.
func (t *Tree) String() string {
	root := t.RootNode()
	if root == nil {
		return ""
	}
	return root.String()
}

// Text returns the source covered by n.
func (t *Tree) Text(n *sitter.Node) string {
	if t == nil || n == nil {
		return ""
	}
	return n.Content(t.src)
}
