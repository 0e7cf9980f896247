// Package runtime runs Risor scripts against syntax trees. Scripts see the
// updated buffer through host functions and typically derive outlines,
// code maps, or fold ranges from it.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/jward/sapling/internal/publish"
	"github.com/jward/sapling/internal/syntax"
)

// TreeSource supplies the current tree of a buffer.
type TreeSource interface {
	GetTree(id int64) (*syntax.Tree, bool)
}

// Resolver maps a scope to its grammar.
type Resolver interface {
	Resolve(scope string) (*sitter.Language, bool)
}

// Runtime embeds a Risor VM and provides tree-sitter host functions to
// scripts that react to tree updates: outlines, code maps, folding.
type Runtime struct {
	trees      TreeSource
	resolver   Resolver
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
	logger     *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithResolver lets parse_src accept scopes as well as language names.
func WithResolver(res Resolver) RuntimeOption {
	return func(r *Runtime) {
		r.resolver = res
	}
}

// WithRuntimeLogger sets the logger behind the script log object and
// subscriber failures.
func WithRuntimeLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRuntime creates a Runtime reading buffer trees from trees and scripts
// from scriptsDir. trees may be nil when scripts only use parse_src.
func NewRuntime(trees TreeSource, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		trees:      trees,
		scriptsDir: scriptsDir,
		sources:    newSourceStore(nil),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals, nil)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals, nil)
}

// RunForBuffer executes source with the buffer's current tree bound to the
// tree, root and source globals. A buffer with no tree is skipped and
// reported as false.
func (r *Runtime) RunForBuffer(ctx context.Context, source, label string, n publish.Notification) (bool, error) {
	if r.trees == nil {
		return false, nil
	}
	t, ok := r.trees.GetTree(n.BufferID)
	if !ok || t.Raw() == nil {
		return false, nil
	}

	extra := map[string]any{
		"buffer_id": object.NewInt(n.BufferID),
		"scope":     object.NewString(n.Scope),
		"source":    object.NewString(string(t.Source())),
		"tree":      mustProxy(t.Raw()),
		"root":      mustProxy(t.RootNode()),
	}
	err := r.eval(ctx, source, label, extra, func(ss *sourceStore) {
		ss.store(t.Raw(), t.Source(), t.Language())
	})
	return true, err
}

// Subscriber loads the script at scriptPath once and returns a subscriber
// that runs it for every notification. Script failures are logged.
func (r *Runtime) Subscriber(ctx context.Context, scriptPath string) (publish.Subscriber, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return func(n publish.Notification) {
		ran, err := r.RunForBuffer(ctx, src, scriptPath, n)
		if err != nil {
			r.logger.Warn("script failed",
				zap.String("script", scriptPath),
				zap.Int64("buffer_id", n.BufferID),
				zap.Error(err))
			return
		}
		if !ran {
			r.logger.Debug("script skipped, buffer has no tree",
				zap.String("script", scriptPath),
				zap.Int64("buffer_id", n.BufferID))
		}
	}, nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any, register func(*sourceStore)) error {
	// Trees parsed or bound during this run are forgotten with it.
	ss := newSourceStore(r.sources)
	if register != nil {
		register(ss)
	}
	globals := r.buildGlobals(ss, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(ss *sourceStore, extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse_src":  makeParseSrcFn(ss, r.resolver),
		"node_text":  makeNodeTextFn(ss),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(ss),
		"log":        mustProxy(&logObject{logger: r.logger.Named("script")}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
