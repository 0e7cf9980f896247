package sapling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/sapling/internal/fifo"
	"github.com/jward/sapling/internal/metrics"
	"github.com/jward/sapling/internal/publish"
	"github.com/jward/sapling/internal/syntax"
	"github.com/jward/sapling/internal/treecache"
)

// ErrUnsupportedScope is returned by the stateless parse APIs for a scope
// with no registered grammar. The event path never surfaces it.
var ErrUnsupportedScope = errors.New("sapling: unsupported scope")

// ErrClosed is returned for events submitted after Close.
var ErrClosed = errors.New("sapling: engine closed")

// Resolver maps a scope to its grammar. A miss is not an error: the scope
// is simply unsupported for now.
type Resolver interface {
	Resolve(scope string) (*sitter.Language, bool)
}

// Engine keeps the syntax trees of open buffers in sync with their text.
type Engine struct {
	resolver  Resolver
	cache     *treecache.Cache
	publisher *publish.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	maxTrees  int
	clock     func() int64
	registry  prometheus.Registerer
	debounce  func(scope string) time.Duration
	verify    bool
	lifecycle *fifo.Queue[*event]
	edits     *fifo.Queue[*event]
	workers   *errgroup.Group
	dispatch  chan error

	// mu guards admission state: buffers, nextSeq, outstanding, closed.
	mu          sync.Mutex
	idle        *sync.Cond
	buffers     map[int64]*bufferState
	nextSeq     uint64
	outstanding int
	closed      bool
	closeOnce   sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTrees bounds the number of cached trees. Values below 1 are
// raised to 1.
func WithMaxTrees(n int) Option {
	return func(e *Engine) {
		e.maxTrees = n
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers the engine's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithDebounce sets the re-parse delay for edits, by scope. Edits to a
// scope with a positive delay are coalesced: only the last edit within the
// delay is parsed, from its full text.
func WithDebounce(fn func(scope string) time.Duration) Option {
	return func(e *Engine) {
		e.debounce = fn
	}
}

// WithVerifyEdits logs every edit whose replay on the cached text did not
// reproduce the text the host sent at warn level instead of debug.
func WithVerifyEdits(verify bool) Option {
	return func(e *Engine) {
		e.verify = verify
	}
}

// WithClock replaces the monotonic clock used to stamp cache entries.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// New creates an Engine resolving grammars through res and starts its
// workers. Call Close to stop them.
func New(res Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver:  res,
		logger:    zap.NewNop(),
		maxTrees:  treecache.DefaultMaxEntries,
		debounce:  func(string) time.Duration { return 0 },
		lifecycle: fifo.New[*event](),
		edits:     fifo.New[*event](),
		buffers:   make(map[int64]*bufferState),
		dispatch:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.idle = sync.NewCond(&e.mu)
	e.metrics = metrics.New(e.registry)

	cacheOpts := []treecache.Option{treecache.WithEvictHook(e.evicted)}
	if e.clock != nil {
		cacheOpts = append(cacheOpts, treecache.WithClock(e.clock))
	}
	e.cache = treecache.New(e.maxTrees, cacheOpts...)

	e.publisher = publish.New(
		publish.WithLogger(e.logger),
		publish.WithDeliveryHook(e.delivered),
	)
	go func() { e.dispatch <- e.publisher.Run(context.Background()) }()

	e.workers = new(errgroup.Group)
	e.workers.Go(func() error { return e.work(e.lifecycle) })
	e.workers.Go(func() error { return e.work(e.edits) })
	return e
}

// Load reports a lifecycle event (open, reload, revert) carrying the
// buffer's full text. The buffer is parsed from scratch.
func (e *Engine) Load(id int64, scope, text string) error {
	return e.admit(&event{kind: eventLoad, id: id, scope: scope, text: []byte(text)})
}

// Edit reports ordered changes to a buffer along with the text after all of
// them. The changes are applied to the cached tree; with no cached tree the
// text is parsed from scratch.
func (e *Engine) Edit(id int64, scope string, changes []Change, text string) error {
	return e.admit(&event{
		kind:    eventEdit,
		id:      id,
		scope:   scope,
		changes: append([]Change(nil), changes...),
		text:    []byte(text),
	})
}

// CloseBuffer reports that a buffer was closed. Its tree is dropped.
func (e *Engine) CloseBuffer(id int64) error {
	return e.admit(&event{kind: eventClose, id: id})
}

// GetTree returns the current tree of a buffer. Each call returns a Tree of
// its own, so callers on different goroutines may walk their trees at once.
func (e *Engine) GetTree(id int64) (*Tree, bool) {
	return e.cache.Get(id)
}

// Trees returns the current tree of every cached buffer, each a Tree of the
// caller's own.
func (e *Engine) Trees() map[int64]*Tree {
	return e.cache.Snapshot()
}

// Subscribe registers fn to be told after every tree write. Notifications
// for one buffer arrive in write order.
//
// Subscribers run on the engine's dispatch goroutine. A subscriber must not
// call Sync or Close: both wait for the delivery in progress and would never
// return.
func (e *Engine) Subscribe(fn Subscriber) *Subscription {
	return e.publisher.Subscribe(fn)
}

// Sync flushes pending debounced parses and blocks until every admitted
// event has been applied and every resulting notification delivered.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	e.flushDebounced()

	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.idle.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	for e.outstanding > 0 && ctx.Err() == nil {
		e.idle.Wait()
	}
	e.mu.Unlock()
	return ctx.Err()
}

// ParseString parses text with the grammar of scope, outside any buffer.
func (e *Engine) ParseString(ctx context.Context, scope, text string) (*Tree, error) {
	lang, ok := e.resolver.Resolve(scope)
	if !ok {
		return nil, fmt.Errorf("sapling: parse %q: %w", scope, ErrUnsupportedScope)
	}
	p := syntax.NewParser()
	defer p.Close()

	tree, err := p.FullParse(ctx, lang, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("sapling: parse: %w", err)
	}
	return tree, nil
}

// EditTree applies changes to prior with the grammar of scope and returns
// the new tree. prior is not modified.
func (e *Engine) EditTree(ctx context.Context, scope string, prior *Tree, changes []Change) (*Tree, error) {
	lang, ok := e.resolver.Resolve(scope)
	if !ok {
		return nil, fmt.Errorf("sapling: edit %q: %w", scope, ErrUnsupportedScope)
	}
	p := syntax.NewParser()
	defer p.Close()

	tree, err := p.ApplyEdit(ctx, lang, prior, changes)
	if err != nil {
		return nil, fmt.Errorf("sapling: edit: %w", err)
	}
	return tree, nil
}

// Close stops accepting events, applies the ones already admitted, delivers
// their notifications and empties the cache. Debounced parses that have not
// fired are discarded.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.cancelDebounced()
		e.mu.Unlock()

		e.lifecycle.Close()
		e.edits.Close()
		err = e.workers.Wait()

		e.publisher.Close()
		if derr := <-e.dispatch; derr != nil && err == nil {
			err = derr
		}
		e.cache.Clear()
		e.metrics.SetCacheEntries(0)
	})
	return err
}

// evicted runs for each tree dropped by capacity pressure, with the cache
// lock held.
func (e *Engine) evicted(id int64, entry treecache.Entry) {
	e.metrics.Evicted(1)
	e.logger.Debug("tree evicted", zap.Int64("buffer_id", id), zap.String("scope", entry.Scope))
}

func (e *Engine) delivered() {
	e.metrics.Notified()
	e.mu.Lock()
	e.done()
	e.mu.Unlock()
}

// done retires one outstanding unit of work. Callers hold e.mu.
func (e *Engine) done() {
	e.outstanding--
	if e.outstanding == 0 {
		e.idle.Broadcast()
	}
}
