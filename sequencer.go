package sapling

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jward/sapling/internal/fifo"
	"github.com/jward/sapling/internal/metrics"
	"github.com/jward/sapling/internal/syntax"
	"github.com/jward/sapling/internal/treecache"
)

type eventKind int

const (
	eventLoad eventKind = iota
	eventEdit
	eventClose
	// eventReparse is a debounced edit: a full parse of the latest text.
	eventReparse
)

func (k eventKind) String() string {
	switch k {
	case eventLoad:
		return "load"
	case eventEdit:
		return "edit"
	case eventClose:
		return "close"
	case eventReparse:
		return "reparse"
	}
	return "unknown"
}

// lifecycle reports whether the event is drained by the lifecycle worker.
func (k eventKind) lifecycle() bool {
	return k == eventLoad || k == eventClose
}

type event struct {
	kind    eventKind
	id      int64
	scope   string
	text    []byte
	changes []syntax.Change

	// seq is the buffer's admission sequence number.
	seq uint64
	// after is the seq of the last lifecycle event admitted before this
	// one. An edit is not applied until that event has been processed.
	after uint64
	state *bufferState

	timer *time.Timer
}

// bufferState orders the writes of one buffer.
type bufferState struct {
	// mu is held while a worker processes an event for the buffer.
	mu   sync.Mutex
	cond *sync.Cond
	// applied is the seq of the last event written, guarded by mu.
	applied uint64
	// lifecycleDone is the seq of the last lifecycle event processed,
	// guarded by mu.
	lifecycleDone uint64

	// The remaining fields are guarded by Engine.mu.
	lastLifecycle uint64
	pending       int
	closed        bool
	debounced     *event
}

func newBufferState() *bufferState {
	bs := &bufferState{}
	bs.cond = sync.NewCond(&bs.mu)
	return bs
}

// admit assigns ev its place in the buffer's order and queues it. Parsing
// never happens on the caller's goroutine.
func (e *Engine) admit(ev *event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	bs, ok := e.buffers[ev.id]
	if !ok {
		bs = newBufferState()
		e.buffers[ev.id] = bs
	}
	e.nextSeq++
	ev.seq = e.nextSeq
	ev.state = bs
	ev.after = bs.lastLifecycle
	bs.closed = ev.kind == eventClose

	if ev.kind.lifecycle() {
		bs.lastLifecycle = ev.seq
		// Queued first so the buffer stays pending while the superseded
		// edit below is retired.
		e.enqueue(e.lifecycle, ev)
		// The full text supersedes any edit still waiting out its delay.
		e.dropDebounced(bs)
		return nil
	}

	if d := e.debounce(ev.scope); d > 0 {
		e.dropDebounced(bs)
		ev.kind = eventReparse
		ev.changes = nil
		e.schedule(bs, ev, d)
		return nil
	}

	// An undelayed edit builds on every earlier one, including a delayed
	// edit of a scope the buffer just left.
	if bs.debounced != nil {
		e.fire(bs)
	}
	e.enqueue(e.edits, ev)
	return nil
}

// enqueue queues ev and counts it as outstanding. Callers hold e.mu.
func (e *Engine) enqueue(q *fifo.Queue[*event], ev *event) {
	if !q.Push(ev) {
		e.metrics.Dropped(metrics.ReasonClosed)
		return
	}
	ev.state.pending++
	e.outstanding++
}

// schedule arms the debounce timer for ev. Callers hold e.mu.
func (e *Engine) schedule(bs *bufferState, ev *event, d time.Duration) {
	bs.debounced = ev
	bs.pending++
	e.outstanding++
	ev.timer = time.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if bs.debounced != ev || e.closed {
			return
		}
		e.fire(bs)
	})
}

// fire moves the buffer's debounced event onto the edit queue. It was
// already counted as outstanding when scheduled. Callers hold e.mu.
func (e *Engine) fire(bs *bufferState) {
	ev := bs.debounced
	bs.debounced = nil
	ev.timer.Stop()
	if !e.edits.Push(ev) {
		e.metrics.Dropped(metrics.ReasonClosed)
		e.retire(ev)
	}
}

// dropDebounced discards the buffer's pending debounced event, if any.
// Callers hold e.mu.
func (e *Engine) dropDebounced(bs *bufferState) {
	ev := bs.debounced
	if ev == nil {
		return
	}
	bs.debounced = nil
	ev.timer.Stop()
	e.metrics.Dropped(metrics.ReasonSuperseded)
	e.logger.Debug("debounced parse superseded",
		zap.Int64("buffer_id", ev.id), zap.Uint64("seq", ev.seq))
	e.retire(ev)
}

// flushDebounced queues every pending debounced event now. Callers hold e.mu.
func (e *Engine) flushDebounced() {
	for _, bs := range e.buffers {
		if bs.debounced != nil {
			e.fire(bs)
		}
	}
}

// cancelDebounced discards every pending debounced event. Callers hold e.mu.
func (e *Engine) cancelDebounced() {
	for _, bs := range e.buffers {
		if ev := bs.debounced; ev != nil {
			bs.debounced = nil
			ev.timer.Stop()
			e.metrics.Dropped(metrics.ReasonClosed)
			e.retire(ev)
		}
	}
}

// retire finishes the bookkeeping for ev and forgets closed buffers with
// nothing left in flight. Callers hold e.mu.
func (e *Engine) retire(ev *event) {
	bs := ev.state
	bs.pending--
	if bs.closed && bs.pending == 0 && bs.debounced == nil && e.buffers[ev.id] == bs {
		delete(e.buffers, ev.id)
	}
	e.done()
}

// work drains q until it is closed. Each worker owns its parser.
func (e *Engine) work(q *fifo.Queue[*event]) error {
	p := syntax.NewParser()
	defer p.Close()

	ctx := context.Background()
	for {
		ev, ok := q.Pop(ctx)
		if !ok {
			return nil
		}
		e.process(ctx, p, ev)

		e.mu.Lock()
		e.retire(ev)
		e.mu.Unlock()
	}
}

func (e *Engine) process(ctx context.Context, p *syntax.Parser, ev *event) {
	bs := ev.state
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if ev.kind.lifecycle() {
		defer func() {
			bs.lifecycleDone = ev.seq
			bs.cond.Broadcast()
		}()
	} else {
		for bs.lifecycleDone < ev.after {
			bs.cond.Wait()
		}
	}

	if ev.seq <= bs.applied {
		e.metrics.Dropped(metrics.ReasonSuperseded)
		e.logger.Debug("event superseded",
			zap.Int64("buffer_id", ev.id),
			zap.Stringer("kind", ev.kind),
			zap.Uint64("seq", ev.seq),
			zap.Uint64("applied", bs.applied))
		return
	}

	if ev.kind == eventClose {
		e.cache.Remove(ev.id)
		bs.applied = ev.seq
		e.metrics.SetCacheEntries(e.cache.Len())
		return
	}

	lang, ok := e.resolver.Resolve(ev.scope)
	if !ok {
		if e.cache.Remove(ev.id) {
			e.metrics.SetCacheEntries(e.cache.Len())
		}
		bs.applied = ev.seq
		e.metrics.Dropped(metrics.ReasonUnsupported)
		e.logger.Debug("scope unsupported, buffer untracked",
			zap.Int64("buffer_id", ev.id), zap.String("scope", ev.scope))
		return
	}

	kind := metrics.KindFull
	start := time.Now()
	var tree *syntax.Tree
	var err error
	if prior, incremental := e.incrementalBase(ev); incremental {
		kind = metrics.KindIncremental
		tree, err = p.ApplyEdit(ctx, lang, prior, ev.changes)
	} else {
		tree, err = p.FullParse(ctx, lang, ev.text)
	}
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.Dropped(metrics.ReasonParseError)
		e.logger.Warn("parse failed",
			zap.Int64("buffer_id", ev.id),
			zap.String("scope", ev.scope),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}

	e.write(ev, tree, kind, elapsed)
}

// incrementalBase returns the cached tree an edit can be applied to. Loads,
// reparses, uncached buffers, scope changes and edits whose replay does not
// reproduce the event's text all parse from scratch instead.
func (e *Engine) incrementalBase(ev *event) (*syntax.Tree, bool) {
	if ev.kind != eventEdit {
		return nil, false
	}
	entry, ok := e.cache.Entry(ev.id)
	if !ok {
		e.logger.Debug("edit for uncached buffer, parsing text",
			zap.Int64("buffer_id", ev.id), zap.String("scope", ev.scope))
		return nil, false
	}
	if entry.Scope != ev.scope {
		e.logger.Debug("scope changed, parsing text",
			zap.Int64("buffer_id", ev.id),
			zap.String("from", entry.Scope),
			zap.String("to", ev.scope))
		return nil, false
	}

	replayed, err := syntax.Apply(entry.Tree.Source(), ev.changes)
	if err == nil && bytes.Equal(replayed, ev.text) {
		return entry.Tree, true
	}

	e.metrics.ReplayMismatch()
	log := e.logger.Debug
	if e.verify {
		log = e.logger.Warn
	}
	fields := []zap.Field{
		zap.Int64("buffer_id", ev.id),
		zap.Uint64("seq", ev.seq),
		zap.Int("changes", len(ev.changes)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	log("edit replay does not match buffer text, parsing text", fields...)
	return nil, false
}

// write stores the tree, then notifies. Callers hold the buffer's lock.
func (e *Engine) write(ev *event, tree *syntax.Tree, kind string, elapsed time.Duration) {
	// Nodes of tree are only read here, before Put shares it with readers.
	hasError := tree.HasError()
	e.cache.Put(ev.id, treecache.Entry{Tree: tree, Scope: ev.scope})
	ev.state.applied = ev.seq

	e.metrics.ObserveParse(kind, ev.scope, elapsed)
	e.metrics.SetCacheEntries(e.cache.Len())
	e.logger.Debug("tree updated",
		zap.Int64("buffer_id", ev.id),
		zap.String("scope", ev.scope),
		zap.String("kind", kind),
		zap.Stringer("event", ev.kind),
		zap.Duration("elapsed", elapsed),
		zap.Bool("has_error", hasError))

	e.mu.Lock()
	e.outstanding++
	if !e.publisher.Notify(ev.id, ev.scope) {
		e.done()
	}
	e.mu.Unlock()
}
