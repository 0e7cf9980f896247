// Package grammar maps editor scopes to compiled tree-sitter grammars and
// provisions them from the built-in catalogue.
package grammar

import (
	"sort"
	"sync"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"
)

// Registry maps scopes to grammars. Registration is append-only and copies
// the table; Resolve reads the current snapshot without locking, so
// provisioning can finish while buffers are already being parsed.
type Registry struct {
	mu       sync.Mutex // serializes writers
	snapshot atomic.Pointer[map[string]*sitter.Language]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*sitter.Language{}
	r.snapshot.Store(&empty)
	return r
}

// Register binds scope to lang. An existing binding for scope is kept:
// a scope resolves to the same grammar for the life of the process.
// Reports whether the binding was added.
func (r *Registry) Register(scope string, lang *sitter.Language) bool {
	if scope == "" || lang == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[scope]; ok {
		return false
	}
	next := make(map[string]*sitter.Language, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[scope] = lang
	r.snapshot.Store(&next)
	return true
}

// Resolve returns the grammar for scope. A miss means the scope is
// unsupported, or not provisioned yet.
func (r *Registry) Resolve(scope string) (*sitter.Language, bool) {
	if scope == "" {
		return nil, false
	}
	lang, ok := (*r.snapshot.Load())[scope]
	return lang, ok
}

// Scopes returns every registered scope, sorted.
func (r *Registry) Scopes() []string {
	cur := *r.snapshot.Load()
	scopes := make([]string, 0, len(cur))
	for s := range cur {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// Len returns the number of registered scopes.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}
