package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/publish"
	"github.com/jward/sapling/internal/syntax"
)

const goTestSource = `package main

import "fmt"

func Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}

func Add(a, b int) int {
	return a + b
}

type Server struct {
	Host string
	Port int
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
`

const pyTestSource = `class Greeter:
    def greet(self, name):
        return "hi " + name

def main():
    Greeter().greet("x")
`

// parseSource parses src with the named built-in grammar.
func parseSource(t *testing.T, lang, src string) *syntax.Tree {
	t.Helper()
	l, ok := grammar.Builtin(lang)
	require.True(t, ok, "grammar %s not found", lang)

	p := syntax.NewParser()
	defer p.Close()
	tree, err := p.FullParse(context.Background(), l, []byte(src))
	require.NoError(t, err)
	return tree
}

// parseGoSource parses Go source and registers it in a Runtime's source store.
func parseGoSource(t *testing.T, src string) (*syntax.Tree, *Runtime) {
	t.Helper()
	rt := NewRuntime(nil, "")
	tree := parseSource(t, "go", src)
	rt.sources.store(tree.Raw(), tree.Source(), tree.Language())
	return tree, rt
}

// fakeTrees is a fixed TreeSource.
type fakeTrees map[int64]*syntax.Tree

func (f fakeTrees) GetTree(id int64) (*syntax.Tree, bool) {
	t, ok := f[id]
	return t, ok
}

func firstOfType(root *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == typ {
			return child
		}
	}
	return nil
}

// --- sourceStore ---

func TestSourceStore_NodeText(t *testing.T) {
	tree, rt := parseGoSource(t, goTestSource)

	funcDecl := firstOfType(tree.RootNode(), "function_declaration")
	require.NotNil(t, funcDecl)
	nameNode := funcDecl.ChildByFieldName("name")
	require.NotNil(t, nameNode)

	src, ok := rt.sources.sourceForNode(nameNode)
	require.True(t, ok)
	assert.Equal(t, "Greet", nameNode.Content(src))

	lang, ok := rt.sources.languageForNode(nameNode)
	require.True(t, ok)
	assert.Same(t, tree.Language(), lang)
}

func TestSourceStore_ChildFallsBackToParent(t *testing.T) {
	tree, rt := parseGoSource(t, goTestSource)
	child := newSourceStore(rt.sources)

	_, ok := child.sourceForNode(tree.RootNode())
	assert.True(t, ok)

	other := parseSource(t, "python", pyTestSource)
	child.store(other.Raw(), other.Source(), other.Language())
	_, ok = child.sourceForNode(other.RootNode())
	assert.True(t, ok)
	_, ok = rt.sources.sourceForNode(other.RootNode())
	assert.False(t, ok, "run-scoped trees do not leak into the parent")
}

// --- Risor integration tests (via RunSource) ---

func TestRunSource_ParseSrcAndNodeText(t *testing.T) {
	rt := NewRuntime(nil, "")

	script := `
tree := parse_src(src, "go")
root := tree.RootNode()

assert(root.Type() == "source_file", "expected source_file")

names := []
count := int(root.NamedChildCount())
for i := 0; i < count; i++ {
    child := root.NamedChild(i)
    if child.Type() == "function_declaration" {
        name_node := child.ChildByFieldName("name")
        names.append(node_text(name_node))
    }
}

assert(len(names) == 2, 'expected 2 functions, got {len(names)}')
assert(names[0] == "Greet", 'expected Greet, got {names[0]}')
assert(names[1] == "Add", 'expected Add, got {names[1]}')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": goTestSource})
	require.NoError(t, err)
}

func TestRunSource_ParseSrcByScope(t *testing.T) {
	reg := grammar.NewRegistry()
	_, err := grammar.NewProvisioner(reg,
		grammar.WithScopeOverrides(map[string][]string{"python": {"source.snake"}}),
	).Provision([]string{"python"})
	require.NoError(t, err)

	rt := NewRuntime(nil, "", WithResolver(reg))
	script := `
tree := parse_src("x = 1\n", "source.snake")
assert(tree.RootNode().Type() == "module", "expected module")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestRunSource_ParseSrcUnsupported(t *testing.T) {
	rt := NewRuntime(nil, "")
	err := rt.RunSource(context.Background(), `parse_src("x", "source.cobol")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestRunSource_QueryHostFunction(t *testing.T) {
	rt := NewRuntime(nil, "")

	script := `
root := parse_src(src, "go").RootNode()

matches := query("(function_declaration name: (identifier) @name)", root)
assert(len(matches) == 2, 'expected 2 matches, got {len(matches)}')
assert(node_text(matches[0]["name"]) == "Greet")
assert(node_text(matches[1]["name"]) == "Add")

methods := query("(method_declaration name: (field_identifier) @name)", root)
assert(len(methods) == 1, 'expected 1 method match, got {len(methods)}')
assert(node_text(methods[0]["name"]) == "Address")
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": goTestSource})
	require.NoError(t, err)
}

func TestRunSource_QueryNoMatches(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
root := parse_src("package main\n\nvar x = 1\n", "go").RootNode()
matches := query("(function_declaration name: (identifier) @name)", root)
assert(len(matches) == 0, 'expected 0 matches, got {len(matches)}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestRunSource_QueryInvalidPattern(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
root := parse_src(src, "go").RootNode()
query("(not_a_real_node_type @x)", root)
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": goTestSource})
	require.Error(t, err)
}

func TestRunSource_NodeChild(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
root := parse_src(src, "go").RootNode()
decl := root.NamedChild(2)
assert(decl.Type() == "function_declaration")
assert(node_text(node_child(decl, "name")) == "Greet")
assert(node_child(decl, "no_such_field") == nil)

parent := root.NamedChild(0).Parent()
assert(parent.Type() == "source_file", "parent should be source_file")
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": goTestSource})
	require.NoError(t, err)
}

func TestRunSource_LogGoesToZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rt := NewRuntime(nil, "", WithRuntimeLogger(zap.New(core)))

	require.NoError(t, rt.RunSource(context.Background(), `log.Warn("careful")`, nil))
	entries := logs.FilterMessage("careful").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "script", entries[0].LoggerName)
}

// --- Buffer subscribers ---

func TestRunForBuffer_BindsTreeGlobals(t *testing.T) {
	tree := parseSource(t, "python", pyTestSource)
	rt := NewRuntime(fakeTrees{7: tree}, "")

	ran, err := rt.RunForBuffer(context.Background(),
		`assert(buffer_id == 7)
assert(scope == "source.python")
assert(root.Type() == "module")
assert(tree.RootNode().Type() == "module")
assert(len(source) > 0)
classes := query("(class_definition name: (identifier) @name)", root)
assert(len(classes) == 1)
assert(node_text(classes[0]["name"]) == "Greeter")
`, "outline", publish.Notification{BufferID: 7, Scope: "source.python"})
	require.NoError(t, err)
	assert.True(t, ran)

	_, ok := rt.sources.sourceForNode(tree.RootNode())
	assert.False(t, ok, "buffer trees are only registered for the run")
}

func TestRunForBuffer_NoTree(t *testing.T) {
	rt := NewRuntime(fakeTrees{}, "")
	ran, err := rt.RunForBuffer(context.Background(), `assert(false)`, "x",
		publish.Notification{BufferID: 1})
	require.NoError(t, err)
	assert.False(t, ran)

	ran, err = NewRuntime(nil, "").RunForBuffer(context.Background(), `assert(false)`, "x",
		publish.Notification{BufferID: 1})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestSubscriber_RunsScriptPerNotification(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outline.risor"), []byte(`
defs := query("(function_definition name: (identifier) @name)", root)
for _, m := range defs {
    log.Info(node_text(m["name"]))
}
`), 0644))

	core, logs := observer.New(zap.DebugLevel)
	tree := parseSource(t, "python", pyTestSource)
	rt := NewRuntime(fakeTrees{3: tree}, dir, WithRuntimeLogger(zap.New(core)))

	sub, err := rt.Subscriber(context.Background(), "outline.risor")
	require.NoError(t, err)

	sub(publish.Notification{BufferID: 3, Scope: "source.python"})
	assert.Equal(t, 1, logs.FilterMessage("greet").Len())
	assert.Equal(t, 1, logs.FilterMessage("main").Len())

	sub(publish.Notification{BufferID: 99, Scope: "source.python"})
	assert.Equal(t, 1, logs.FilterMessage("script skipped, buffer has no tree").Len())
}

func TestSubscriber_LogsScriptFailure(t *testing.T) {
	mapFS := fstest.MapFS{
		"broken.risor": &fstest.MapFile{Data: []byte(`assert(false, "nope")`)},
	}
	core, logs := observer.New(zap.WarnLevel)
	tree := parseSource(t, "python", "x = 1\n")
	rt := NewRuntime(fakeTrees{1: tree}, "", WithRuntimeFS(mapFS), WithRuntimeLogger(zap.New(core)))

	sub, err := rt.Subscriber(context.Background(), "broken.risor")
	require.NoError(t, err)
	sub(publish.Notification{BufferID: 1, Scope: "source.python"})

	assert.Equal(t, 1, logs.FilterMessage("script failed").Len())
}

func TestSubscriber_MissingScript(t *testing.T) {
	rt := NewRuntime(nil, t.TempDir())
	_, err := rt.Subscriber(context.Background(), "absent.risor")
	require.Error(t, err)
}

// --- Script loading ---

func TestRunScript_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`result := 1 + 1`), 0644))

	rt := NewRuntime(nil, dir)
	require.NoError(t, rt.RunScript(context.Background(), "test.risor", nil))
}

func TestRunScript_MissingFile(t *testing.T) {
	rt := NewRuntime(nil, t.TempDir())
	err := rt.RunScript(context.Background(), "nonexistent.risor", nil)
	require.Error(t, err)
}

func TestLoadScript_FromFSFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	mapFS := fstest.MapFS{
		"outline/python.risor": &fstest.MapFile{Data: []byte(content)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("outline/python.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Absolute-style path should be resolved within the FS.
	got, err = rt.LoadScript("/outline/python.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestLoadScript_FromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(content), 0644))

	rt := NewRuntime(nil, dir)
	got, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = rt.LoadScript(filepath.Join(dir, "test.risor"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// --- Importer wiring tests ---

func TestImport_FSImporter(t *testing.T) {
	// Risor's FSImporter resolves "lib_helpers" by trying name + ".risor".
	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func greet(name) {
	return "hello " + name
}
`)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

msg := lib_helpers.greet("world")
assert(msg == "hello world", 'expected "hello world", got ' + msg)
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.risor"), []byte(`
func do_log(msg) {
	log.Info(msg)
}
`), 0644))

	rt := NewRuntime(nil, dir)
	script := `
import helper
helper.do_log("test message")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}
