// Package publish delivers post-write tree notifications to subscribers.
//
// Notify never blocks the writer. Notifications are queued and handed to
// subscribers by a single dispatcher goroutine, so for any one buffer they
// arrive in the order the writes were made.
package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/sapling/internal/fifo"
)

// Notification announces that the tree for a buffer changed. It carries no
// tree; subscribers read the current one from the engine.
type Notification struct {
	BufferID int64  `json:"buffer_id"`
	Scope    string `json:"scope"`
}

// Subscriber receives notifications on the dispatcher goroutine.
type Subscriber func(Notification)

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	ID string
	p  *Publisher
}

// Unsubscribe stops delivery to the subscriber. Notifications already being
// dispatched may still reach it.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.p == nil {
		return
	}
	s.p.unsubscribe(s.ID)
}

// Publisher fans notifications out to subscribers.
type Publisher struct {
	logger *zap.Logger
	queue  *fifo.Queue[Notification]

	mu   sync.RWMutex
	subs map[string]Subscriber
	// order keeps delivery deterministic: subscribers run in Subscribe order.
	order []string

	delivered func()
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger subscriber panics are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeliveryHook registers fn to run once per dispatched notification.
func WithDeliveryHook(fn func()) Option {
	return func(p *Publisher) {
		p.delivered = fn
	}
}

// New creates a Publisher. Call Run to start dispatching.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		logger: zap.NewNop(),
		queue:  fifo.New[Notification](),
		subs:   make(map[string]Subscriber),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers fn for every future notification.
func (p *Publisher) Subscribe(fn Subscriber) *Subscription {
	id := uuid.NewString()
	p.mu.Lock()
	p.subs[id] = fn
	p.order = append(p.order, id)
	p.mu.Unlock()
	return &Subscription{ID: id, p: p}
}

func (p *Publisher) unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[id]; !ok {
		return
	}
	delete(p.subs, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Notify queues a notification. It reports false once the publisher has
// been closed.
func (p *Publisher) Notify(id int64, scope string) bool {
	return p.queue.Push(Notification{BufferID: id, Scope: scope})
}

// Close stops accepting notifications. Run delivers what is already queued
// and then returns.
func (p *Publisher) Close() {
	p.queue.Close()
}

// Run dispatches notifications until the publisher is closed and drained or
// ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		n, ok := p.queue.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		p.dispatch(n)
	}
}

func (p *Publisher) dispatch(n Notification) {
	p.mu.RLock()
	subs := make([]Subscriber, 0, len(p.order))
	for _, id := range p.order {
		subs = append(subs, p.subs[id])
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		p.call(fn, n)
	}
	if p.delivered != nil {
		p.delivered()
	}
}

func (p *Publisher) call(fn Subscriber, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber panicked",
				zap.Int64("buffer_id", n.BufferID),
				zap.String("scope", n.Scope),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(n)
}
