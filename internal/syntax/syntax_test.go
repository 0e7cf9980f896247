package syntax

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePython(t *testing.T, src string) (*Parser, *Tree) {
	t.Helper()
	p := NewParser()
	t.Cleanup(p.Close)
	tree, err := p.FullParse(context.Background(), python.GetLanguage(), []byte(src))
	require.NoError(t, err)
	return p, tree
}

// --- Full parse ---

func TestFullParse_SpansWholeText(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "x = 1\n")

	root := tree.RootNode()
	require.NotNil(t, root)
	assert.Equal(t, "module", root.Type())
	assert.Equal(t, uint32(0), root.StartByte())
	assert.Equal(t, uint32(6), root.EndByte())
	assert.False(t, tree.HasError())
	assert.Equal(t, 0, tree.ErrorCount())
	assert.Equal(t, "x = 1\n", string(tree.Source()))
}

func TestFullParse_MalformedInputYieldsErrorNodes(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "def (:\n")

	require.NotNil(t, tree.RootNode())
	assert.True(t, tree.HasError())
	assert.Positive(t, tree.ErrorCount())
}

func TestTree_CopyIsIndependent(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "def f():\n    return 1\n")

	c := tree.Copy()
	require.NotSame(t, tree, c)
	assert.NotSame(t, tree.Raw(), c.Raw())
	assert.Equal(t, tree.String(), c.String())
	assert.Equal(t, tree.Source(), c.Source())
	assert.Same(t, tree.Language(), c.Language())

	var nilTree *Tree
	assert.Nil(t, nilTree.Copy())
}

func TestFullParse_NoGrammar(t *testing.T) {
	t.Parallel()
	p := NewParser()
	defer p.Close()

	_, err := p.FullParse(context.Background(), nil, []byte("x"))
	assert.ErrorIs(t, err, ErrNoGrammar)
}

// --- Edit application ---

func TestApplyEdit_InsertAtStart(t *testing.T) {
	t.Parallel()
	p, t0 := parsePython(t, "x = 1\n")

	t1, err := p.ApplyEdit(context.Background(), python.GetLanguage(), t0, []Change{{Offset: 0, Text: "y"}})
	require.NoError(t, err)

	assert.Equal(t, "yx = 1\n", string(t1.Source()))
	assert.Equal(t, uint32(7), t1.RootNode().EndByte())

	ident := t1.NodeAt(0)
	require.NotNil(t, ident)
	assert.Equal(t, "identifier", ident.Type())
	assert.Equal(t, "yx", t1.Text(ident))

	// The prior tree still describes the prior text.
	assert.Equal(t, "x = 1\n", string(t0.Source()))
	assert.Equal(t, uint32(6), t0.RootNode().EndByte())
	assert.Equal(t, "x", t0.Text(t0.NodeAt(0)))
}

func TestApplyEdit_SequenceMatchesFullParse(t *testing.T) {
	t.Parallel()
	p, t0 := parsePython(t, "def f():\n    return 1\n")

	changes := []Change{
		{Offset: 4, Removed: 1, Text: "greet"},   // rename f -> greet
		{Offset: 24, Removed: 1, Text: "2 + 3"}, // return 1 -> return 2 + 3
		{Offset: 0, Text: "import os\n"},
	}
	edited, err := p.ApplyEdit(context.Background(), python.GetLanguage(), t0, changes)
	require.NoError(t, err)

	want := "import os\ndef greet():\n    return 2 + 3\n"
	require.Equal(t, want, string(edited.Source()))

	_, fresh := parsePython(t, want)
	assert.Equal(t, fresh.String(), edited.String())
}

func TestApplyEdit_Deletion(t *testing.T) {
	t.Parallel()
	p, t0 := parsePython(t, "a = 1\nb = 2\n")

	edited, err := p.ApplyEdit(context.Background(), python.GetLanguage(), t0, []Change{{Offset: 0, Removed: 6}})
	require.NoError(t, err)
	assert.Equal(t, "b = 2\n", string(edited.Source()))
	assert.Equal(t, uint32(6), edited.RootNode().EndByte())
	assert.Equal(t, "b", edited.Text(edited.NodeAt(0)))
}

func TestApplyEdit_OutOfRange(t *testing.T) {
	t.Parallel()
	p, t0 := parsePython(t, "x = 1\n")

	_, err := p.ApplyEdit(context.Background(), python.GetLanguage(), t0, []Change{{Offset: 4, Removed: 10}})
	assert.ErrorIs(t, err, ErrChangeOutOfRange)
}

// --- Change helpers ---

func TestEditFor_Points(t *testing.T) {
	t.Parallel()
	src := []byte("ab\ncd\nef")

	tests := []struct {
		name   string
		change Change
		want   Edit
	}{
		{
			name:   "insert single line",
			change: Change{Offset: 4, Text: "XY"},
			want: Edit{
				StartByte: 4, OldEndByte: 4, NewEndByte: 6,
				StartPoint:  sitter.Point{Row: 1, Column: 1},
				OldEndPoint: sitter.Point{Row: 1, Column: 1},
				NewEndPoint: sitter.Point{Row: 1, Column: 3},
			},
		},
		{
			name:   "delete across newline",
			change: Change{Offset: 1, Removed: 4},
			want: Edit{
				StartByte: 1, OldEndByte: 5, NewEndByte: 1,
				StartPoint:  sitter.Point{Row: 0, Column: 1},
				OldEndPoint: sitter.Point{Row: 1, Column: 2},
				NewEndPoint: sitter.Point{Row: 0, Column: 1},
			},
		},
		{
			name:   "replace with multi-line text",
			change: Change{Offset: 6, Removed: 2, Text: "x\nyz"},
			want: Edit{
				StartByte: 6, OldEndByte: 8, NewEndByte: 10,
				StartPoint:  sitter.Point{Row: 2, Column: 0},
				OldEndPoint: sitter.Point{Row: 2, Column: 2},
				NewEndPoint: sitter.Point{Row: 3, Column: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EditFor(src, tt.change)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_InOrder(t *testing.T) {
	t.Parallel()
	src := []byte("hello")

	got, err := Apply(src, []Change{
		{Offset: 5, Text: " world"},
		{Offset: 0, Removed: 1, Text: "J"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jello world", string(got))
	assert.Equal(t, "hello", string(src))

	_, err = Apply(src, []Change{{Offset: -1}})
	assert.ErrorIs(t, err, ErrChangeOutOfRange)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		old, new string
		want     Change
		ok       bool
	}{
		{"x = 1\n", "x = 1\n", Change{}, false},
		{"x = 1\n", "yx = 1\n", Change{Offset: 0, Removed: 0, Text: "y"}, true},
		{"x = 1\n", "x = 12\n", Change{Offset: 5, Removed: 0, Text: "2"}, true},
		{"abcdef", "abXYef", Change{Offset: 2, Removed: 2, Text: "XY"}, true},
		{"aaa", "aa", Change{Offset: 2, Removed: 1, Text: ""}, true},
		{"", "new", Change{Offset: 0, Removed: 0, Text: "new"}, true},
	}

	for _, tt := range tests {
		got, ok := Diff([]byte(tt.old), []byte(tt.new))
		assert.Equal(t, tt.ok, ok, "%q -> %q", tt.old, tt.new)
		assert.Equal(t, tt.want, got, "%q -> %q", tt.old, tt.new)
		if ok {
			applied, err := Apply([]byte(tt.old), []Change{got})
			require.NoError(t, err)
			assert.Equal(t, tt.new, string(applied))
		}
	}
}

// --- Queries ---

func TestQuery_CapturesWithText(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "def greet():\n    pass\n\ndef add(a, b):\n    return a + b\n")

	matches, err := tree.Query("(function_definition name: (identifier) @name)", nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "name", matches[0][0].Name)
	assert.Equal(t, "greet", matches[0][0].Text)
	assert.Equal(t, "add", matches[1][0].Text)
	assert.Equal(t, uint32(3), matches[1][0].StartPoint.Row)
}

func TestQuery_InvalidPattern(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "x = 1\n")

	_, err := tree.Query("(not_a_node_type", nil)
	assert.Error(t, err)
}

func TestWalk_SkipsChildren(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "x = 1\ny = 2\n")

	var statements int
	Walk(tree.RootNode(), func(n *sitter.Node, depth int) bool {
		if n.Type() == "expression_statement" {
			statements++
			return false
		}
		return true
	})
	assert.Equal(t, 2, statements)
}

func TestNodeAt(t *testing.T) {
	t.Parallel()
	_, tree := parsePython(t, "x = 10\n")

	n := tree.NodeAt(4)
	require.NotNil(t, n)
	assert.Equal(t, "integer", n.Type())
	assert.Equal(t, "10", tree.Text(n))

	assert.Nil(t, tree.NodeAt(100))
}
