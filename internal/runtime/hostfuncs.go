package runtime

import (
	"context"
	"sync"
	"unsafe"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/syntax"
)

// sourceStore tracks source bytes and language for each tree a script can
// reach. node_text and query need to recover source/language from a Node,
// but smacker/go-tree-sitter doesn't expose Node.Tree(). Mappings are keyed
// by root node pointer (obtained via tree.RootNode() when registered and by
// walking up Parent() at lookup time). A store scoped to one script run
// falls back to its parent for trees registered outside the run.
type sourceStore struct {
	parent  *sourceStore
	mu      sync.RWMutex
	sources map[uintptr][]byte           // root node ptr → source bytes
	langs   map[uintptr]*sitter.Language // root node ptr → language
}

func newSourceStore(parent *sourceStore) *sourceStore {
	return &sourceStore{
		parent:  parent,
		sources: make(map[uintptr][]byte),
		langs:   make(map[uintptr]*sitter.Language),
	}
}

func (s *sourceStore) store(tree *sitter.Tree, src []byte, lang *sitter.Language) {
	root := tree.RootNode()
	key := uintptr(unsafe.Pointer(root))
	s.mu.Lock()
	s.sources[key] = src
	s.langs[key] = lang
	s.mu.Unlock()
}

// rootOf walks a node up to its root via Parent().
func rootOf(node *sitter.Node) *sitter.Node {
	for node.Parent() != nil {
		node = node.Parent()
	}
	return node
}

func (s *sourceStore) sourceForNode(node *sitter.Node) ([]byte, bool) {
	key := uintptr(unsafe.Pointer(rootOf(node)))
	for ss := s; ss != nil; ss = ss.parent {
		ss.mu.RLock()
		src, ok := ss.sources[key]
		ss.mu.RUnlock()
		if ok {
			return src, true
		}
	}
	return nil, false
}

func (s *sourceStore) languageForNode(node *sitter.Node) (*sitter.Language, bool) {
	key := uintptr(unsafe.Pointer(rootOf(node)))
	for ss := s; ss != nil; ss = ss.parent {
		ss.mu.RLock()
		lang, ok := ss.langs[key]
		ss.mu.RUnlock()
		if ok {
			return lang, true
		}
	}
	return nil, false
}

// makeParseSrcFn creates "parse_src". The second argument is a scope when
// a resolver is configured and knows it, otherwise a language name.
//
// parse_src(source, scope_or_language) → *sitter.Tree
func makeParseSrcFn(ss *sourceStore, res Resolver) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}

		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}

		nameStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("parse_src: scope or language must be a string, got %s", args[1].Type())
		}

		lang, found := lookupGrammar(res, nameStr.Value())
		if !found {
			return object.Errorf("parse_src: unsupported scope or language %q", nameStr.Value())
		}
		return parseSource(ctx, ss, []byte(srcStr.Value()), lang)
	})
}

func lookupGrammar(res Resolver, name string) (*sitter.Language, bool) {
	if res != nil {
		if lang, ok := res.Resolve(name); ok {
			return lang, true
		}
	}
	return grammar.Builtin(name)
}

func parseSource(ctx context.Context, ss *sourceStore, src []byte, lang *sitter.Language) object.Object {
	parser := syntax.NewParser()
	defer parser.Close()

	tree, err := parser.FullParse(ctx, lang, src)
	if err != nil {
		return object.Errorf("parse_src: %v", err)
	}

	ss.store(tree.Raw(), src, lang)

	proxy, err := object.NewProxy(tree.Raw())
	if err != nil {
		return object.Errorf("parse_src: proxy error: %v", err)
	}
	return proxy
}

// makeNodeTextFn creates the "node_text" host function.
//
// node_text(node) → string
//
// Exists because Risor's proxy system cannot convert strings to []byte
// for node.Content([]byte).
func makeNodeTextFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}

		proxy, ok := args[0].(*object.Proxy)
		if !ok {
			return object.Errorf("node_text: expected proxy (Node), got %s", args[0].Type())
		}

		node, ok := proxy.Interface().(*sitter.Node)
		if !ok {
			return object.Errorf("node_text: expected *sitter.Node, got %T", proxy.Interface())
		}

		src, found := ss.sourceForNode(node)
		if !found {
			return object.Errorf("node_text: no source found for node's tree")
		}

		return object.NewString(node.Content(src))
	})
}

// makeQueryFn creates the "query" host function.
//
// query(pattern, node) → []map[string]any
//
// Each map has capture names as keys and proxied Nodes as values.
func makeQueryFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}

		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("query: pattern must be a string, got %s", args[0].Type())
		}

		nodeProxy, ok := args[1].(*object.Proxy)
		if !ok {
			return object.Errorf("query: node must be a proxy (Node), got %s", args[1].Type())
		}

		node, ok := nodeProxy.Interface().(*sitter.Node)
		if !ok {
			return object.Errorf("query: expected *sitter.Node, got %T", nodeProxy.Interface())
		}

		lang, found := ss.languageForNode(node)
		if !found {
			return object.Errorf("query: no language found for node's tree")
		}

		src, found := ss.sourceForNode(node)
		if !found {
			return object.Errorf("query: no source found for node's tree")
		}

		q, err := sitter.NewQuery([]byte(patternStr.Value()), lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()

		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, node)

		var results []object.Object
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, src)

			matchMap := make(map[string]object.Object)
			for _, capture := range match.Captures {
				name := q.CaptureNameForId(capture.Index)
				nodeP, err := object.NewProxy(capture.Node)
				if err != nil {
					return object.Errorf("query: proxy error for capture %q: %v", name, err)
				}
				matchMap[name] = nodeP
			}
			results = append(results, object.NewMap(matchMap))
		}

		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// makeNodeChildFn creates "node_child", a safe wrapper for ChildByFieldName
// that returns Risor nil instead of a proxied Go nil pointer.
//
// node_child(node, fieldName) → Node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}

		proxy, ok := args[0].(*object.Proxy)
		if !ok {
			return object.Errorf("node_child: expected proxy (Node), got %s", args[0].Type())
		}

		node, ok := proxy.Interface().(*sitter.Node)
		if !ok {
			return object.Errorf("node_child: expected *sitter.Node, got %T", proxy.Interface())
		}

		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}

		child := node.ChildByFieldName(fieldStr.Value())
		if child == nil {
			return object.Nil
		}

		p, err := object.NewProxy(child)
		if err != nil {
			return object.Errorf("node_child: proxy error: %v", err)
		}
		return p
	})
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
