package grammar

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
)

// defaultScopes maps canonical language names to the editor scopes they
// serve. Several scopes may share one grammar.
var defaultScopes = map[string][]string{
	"bash":       {"source.shell"},
	"c":          {"source.c"},
	"cpp":        {"source.c++"},
	"c_sharp":    {"source.cs"},
	"css":        {"source.css"},
	"go":         {"source.go"},
	"html":       {"text.html.basic", "text.xml"},
	"java":       {"source.java"},
	"javascript": {"source.js", "source.jsx"},
	"lua":        {"source.lua"},
	"php":        {"source.php"},
	"python":     {"source.python"},
	"ruby":       {"source.ruby"},
	"rust":       {"source.rust"},
	"toml":       {"source.toml"},
	"tsx":        {"source.tsx"},
	"typescript": {"source.ts"},
	"yaml":       {"source.yaml"},
}

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".sh":   "bash",
	".bash": "bash",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".cs":   "c_sharp",
	".css":  "css",
	".go":   "go",
	".html": "html",
	".htm":  "html",
	".xml":  "html",
	".java": "java",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".lua":  "lua",
	".php":  "php",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".toml": "toml",
	".tsx":  "tsx",
	".ts":   "typescript",
	".yml":  "yaml",
	".yaml": "yaml",
}

// langToGrammar maps language names to compiled tree-sitter grammars.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"bash":       bash.GetLanguage(),
			"c":          c.GetLanguage(),
			"cpp":        cpp.GetLanguage(),
			"c_sharp":    csharp.GetLanguage(),
			"css":        css.GetLanguage(),
			"go":         golang.GetLanguage(),
			"html":       html.GetLanguage(),
			"java":       java.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"lua":        lua.GetLanguage(),
			"php":        php.GetLanguage(),
			"python":     python.GetLanguage(),
			"ruby":       ruby.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"toml":       toml.GetLanguage(),
			"tsx":        tsx.GetLanguage(),
			"typescript": ts.GetLanguage(),
			"yaml":       yaml.GetLanguage(),
		}
	})
}

// Builtin returns the compiled grammar for a canonical language name.
// Returns (nil, false) if the language is not in the catalogue.
func Builtin(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// Languages returns the sorted names of every language in the catalogue.
func Languages() []string {
	names := make([]string, 0, len(defaultScopes))
	for name := range defaultScopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultScopes returns the built-in scopes for a language name.
func DefaultScopes(lang string) []string {
	return append([]string(nil), defaultScopes[lang]...)
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ScopeForFile returns the primary scope for a file path, the first scope
// its language serves.
func ScopeForFile(path string) (string, bool) {
	lang, ok := LanguageForFile(path)
	if !ok {
		return "", false
	}
	scopes := defaultScopes[lang]
	if len(scopes) == 0 {
		return "", false
	}
	return scopes[0], true
}
