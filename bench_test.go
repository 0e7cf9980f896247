package sapling

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/syntax"
)

// benchPythonSource builds a Python module of n small functions.
func benchPythonSource(n int) string {
	var b strings.Builder
	b.WriteString("import os\nimport sys\n\n")
	for i := range n {
		fmt.Fprintf(&b, "def handler_%d(request, *args, **kwargs):\n", i)
		fmt.Fprintf(&b, "    value = request.get(%q, %d)\n", fmt.Sprintf("key_%d", i), i)
		b.WriteString("    if value > 10:\n")
		b.WriteString("        return [x * 2 for x in range(value)]\n")
		b.WriteString("    return os.path.join(sys.prefix, str(value))\n\n")
	}
	return b.String()
}

func benchLanguage(b *testing.B) *grammar.Registry {
	b.Helper()
	reg := grammar.NewRegistry()
	if _, err := grammar.NewProvisioner(reg).Provision([]string{"python"}); err != nil {
		b.Fatal(err)
	}
	return reg
}

func BenchmarkFullParse(b *testing.B) {
	reg := benchLanguage(b)
	lang, _ := reg.Resolve(pyScope)
	src := []byte(benchPythonSource(200))
	p := syntax.NewParser()
	defer p.Close()

	b.SetBytes(int64(len(src)))
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if _, err := p.FullParse(context.Background(), lang, src); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIncrementalEdit(b *testing.B) {
	reg := benchLanguage(b)
	lang, _ := reg.Resolve(pyScope)
	src := []byte(benchPythonSource(200))
	p := syntax.NewParser()
	defer p.Close()

	prior, err := p.FullParse(context.Background(), lang, src)
	if err != nil {
		b.Fatal(err)
	}
	// Rename one identifier in the middle of the module.
	at := strings.Index(string(src), "handler_100")
	changes := []Change{{Offset: at, Removed: len("handler_100"), Text: "handler_x"}}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if _, err := p.ApplyEdit(context.Background(), lang, prior, changes); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEngineKeystrokes measures one buffer taking a keystroke per
// iteration through the engine, waiting for each write.
func BenchmarkEngineKeystrokes(b *testing.B) {
	e := New(benchLanguage(b))
	defer e.Close()

	text := benchPythonSource(100)
	if err := e.Load(1, pyScope, text); err != nil {
		b.Fatal(err)
	}
	if err := e.Sync(context.Background()); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		c := Change{Offset: len(text), Text: "#"}
		text += "#"
		if err := e.Edit(1, pyScope, []Change{c}, text); err != nil {
			b.Fatal(err)
		}
		if err := e.Sync(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
