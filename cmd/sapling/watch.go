package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/sapling"
	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/publish"
	"github.com/jward/sapling/internal/runtime"
	"github.com/jward/sapling/internal/syntax"
	"github.com/jward/sapling/scripts"
)

var (
	flagScript      string
	flagOutline     bool
	flagMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch <files...>",
	Short: "Track files as buffers and report every tree update",
	Long:  "Opens each file as a buffer, then turns every write into an edit event and every removal into a close event. Each tree update is printed, and optionally handed to a Risor script.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagScope, "scope", "", "scope for every file (default: inferred from each extension)")
	watchCmd.Flags().StringVar(&flagScript, "script", "", "Risor script to run after every tree update")
	watchCmd.Flags().BoolVar(&flagOutline, "outline", false, "log each buffer's definitions after every tree update")
	watchCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	h, err := setup()
	if err != nil {
		return outputError("watch", err)
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	engine := h.newEngine(reg)
	defer engine.Close()

	w, err := newFileWatcher(engine, h.logger.Named("watch"), flagScope)
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	engine.Subscribe(publish.CommandSubscriber(w.printer(engine, out), ""))

	if flagScript != "" {
		rt := runtime.NewRuntime(engine, filepath.Dir(flagScript),
			runtime.WithResolver(h.registry),
			runtime.WithRuntimeLogger(h.logger),
		)
		sub, err := rt.Subscriber(ctx, filepath.Base(flagScript))
		if err != nil {
			return outputError("watch", err)
		}
		engine.Subscribe(sub)
	}
	if flagOutline {
		rt := runtime.NewRuntime(engine, "",
			runtime.WithRuntimeFS(scripts.FS),
			runtime.WithResolver(h.registry),
			runtime.WithRuntimeLogger(h.logger),
		)
		sub, err := rt.Subscriber(ctx, scripts.Outline)
		if err != nil {
			return outputError("watch", err)
		}
		engine.Subscribe(sub)
	}

	for _, path := range args {
		if err := w.Open(path); err != nil {
			return outputError("watch", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	if flagMetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, flagMetricsAddr, reg, h.logger) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return outputError("watch", err)
	}
	return nil
}

// watchedFile is one file tracked as a buffer.
type watchedFile struct {
	id    int64
	path  string
	scope string
	text  []byte
	hash  uint64
	open  bool
}

// fileWatcher turns filesystem events for a set of files into buffer events.
type fileWatcher struct {
	engine  *sapling.Engine
	logger  *zap.Logger
	scope   string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	files  map[string]*watchedFile
	byID   map[int64]*watchedFile
	dirs   map[string]bool
	nextID int64
}

func newFileWatcher(engine *sapling.Engine, logger *zap.Logger, scope string) (*fileWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &fileWatcher{
		engine:  engine,
		logger:  logger,
		scope:   scope,
		watcher: fw,
		files:   make(map[string]*watchedFile),
		byID:    make(map[int64]*watchedFile),
		dirs:    make(map[string]bool),
	}, nil
}

func (w *fileWatcher) Close() error {
	return w.watcher.Close()
}

// Open starts tracking path and loads its current text. The parent
// directory is watched so editors that save by rename are followed.
func (w *fileWatcher) Open(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	scope := w.scope
	if scope == "" {
		s, ok := grammar.ScopeForFile(abs)
		if !ok {
			return fmt.Errorf("no scope known for %s; pass --scope", path)
		}
		scope = s
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; ok {
		return nil
	}
	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.nextID++
	f := &watchedFile{id: w.nextID, path: abs, scope: scope}
	w.files[abs] = f
	w.byID[f.id] = f
	return w.load(f)
}

// load reads f from disk and reports it as a lifecycle event. Callers hold
// w.mu.
func (w *fileWatcher) load(f *watchedFile) error {
	text, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	f.text, f.hash, f.open = text, xxhash.Sum64(text), true
	return w.engine.Load(f.id, f.scope, string(text))
}

// Changed reports a write to path as an edit event covering the span that
// differs from the last text seen.
func (w *fileWatcher) Changed(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[path]
	if !ok {
		return nil
	}
	if !f.open {
		w.logger.Debug("file reappeared", zap.String("path", path))
		return w.load(f)
	}

	text, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	hash := xxhash.Sum64(text)
	if hash == f.hash {
		return nil
	}
	change, ok := syntax.Diff(f.text, text)
	if !ok {
		return nil
	}
	f.text, f.hash = text, hash
	return w.engine.Edit(f.id, f.scope, []sapling.Change{change}, string(text))
}

// Removed reports path as a closed buffer.
func (w *fileWatcher) Removed(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[path]
	if !ok || !f.open {
		return nil
	}
	f.open, f.text, f.hash = false, nil, 0
	return w.engine.CloseBuffer(f.id)
}

// Run handles filesystem events until ctx is done.
func (w *fileWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if err := w.handle(ev); err != nil {
				w.logger.Warn("file event failed",
					zap.String("path", ev.Name),
					zap.Stringer("op", ev.Op),
					zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *fileWatcher) handle(ev fsnotify.Event) error {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename-on-save is followed by a Create for the same path.
		if _, err := os.Stat(path); err == nil {
			return w.Changed(path)
		}
		return w.Removed(path)
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		return w.Changed(path)
	}
	return nil
}

// path returns the file tracked as buffer id.
func (w *fileWatcher) path(id int64) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.byID[id]; ok {
		return f.path
	}
	return ""
}

// printer returns a command runner that prints each tree update to out.
func (w *fileWatcher) printer(engine *sapling.Engine, out io.Writer) publish.CommandRunner {
	return publish.CommandRunnerFunc(func(name string, args map[string]any) {
		id, _ := args["buffer_id"].(int64)
		scope, _ := args["scope"].(string)
		note := CLINotification{Command: name, BufferID: id, File: w.path(id), Scope: scope}
		if tree, ok := engine.GetTree(id); ok {
			note.HasError = tree.HasError()
		}
		if err := outputResult(out, CLIResult{Command: "watch", Results: note}); err != nil {
			w.logger.Warn("writing update", zap.Error(err))
		}
	})
}

// serveMetrics serves reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}

// lockedWriter serializes writes from concurrent subscribers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
