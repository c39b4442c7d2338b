// Package hook implements the kernel's hook engine: synchronous
// pre-hooks that can cancel or rewrite a state write inline (used
// directly as state.PreHook), and an async post-hook pipeline with a
// bounded, back-pressure-aware queue per registration.
package hook

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/llmkernel/kernel/internal/kernelerr"
)

// Event is the payload delivered to a hook.
type Event struct {
	Name   string
	Scope  string
	Key    string
	Value  any
}

// AsyncHook observes an Event after the state change it describes has
// already committed. It must not block for long; slow work should
// hand off internally.
type AsyncHook func(ctx context.Context, evt Event)

// BackpressurePolicy decides what happens when an async hook's queue
// is full.
type BackpressurePolicy int

const (
	// PolicyBlock makes Fire wait for queue space.
	PolicyBlock BackpressurePolicy = iota
	// PolicyDrop drops the event and increments Stats.Dropped.
	PolicyDrop
)

// Stats reports one async registration's queue activity.
type Stats struct {
	Processed uint64
	Dropped   uint64
}

type registration struct {
	name     string
	fn       AsyncHook
	policy   BackpressurePolicy
	queue    chan Event
	stats    Stats
	stopOnce sync.Once
	done     chan struct{}
}

// Engine runs the async post-hook pipeline. Sync pre-hooks (state
// write cancellation/rewriting) are a separate, simpler mechanism —
// state.PreHook — and do not go through Engine at all.
type Engine struct {
	mu    sync.RWMutex
	regs  map[string]*registration
}

// NewEngine creates an empty hook engine.
func NewEngine() *Engine {
	return &Engine{regs: make(map[string]*registration)}
}

// Register adds an async hook under name, with a bounded queue of
// size queueSize and the given back-pressure policy. Registering the
// same name twice replaces the previous registration after stopping
// it.
func (e *Engine) Register(name string, fn AsyncHook, policy BackpressurePolicy, queueSize int) {
	if queueSize <= 0 {
		queueSize = 64
	}
	reg := &registration{
		name:   name,
		fn:     fn,
		policy: policy,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if old, ok := e.regs[name]; ok {
		e.stopLocked(old)
	}
	e.regs[name] = reg
	e.mu.Unlock()

	go e.run(reg)
}

func (e *Engine) run(reg *registration) {
	defer close(reg.done)
	for evt := range reg.queue {
		reg.fn(context.Background(), evt)
		atomic.AddUint64(&reg.stats.Processed, 1)
	}
}

// Fire delivers evt to every registered async hook, honoring each
// registration's back-pressure policy independently. It never blocks
// on a PolicyDrop registration and returns as soon as every PolicyBlock
// registration has accepted the event.
func (e *Engine) Fire(ctx context.Context, evt Event) error {
	e.mu.RLock()
	regs := make([]*registration, 0, len(e.regs))
	for _, r := range e.regs {
		regs = append(regs, r)
	}
	e.mu.RUnlock()

	for _, reg := range regs {
		select {
		case reg.queue <- evt:
		default:
			switch reg.policy {
			case PolicyDrop:
				atomic.AddUint64(&reg.stats.Dropped, 1)
			case PolicyBlock:
				select {
				case reg.queue <- evt:
				case <-ctx.Done():
					return kernelerr.Timeout("hook %s queue full: %v", reg.name, ctx.Err())
				}
			}
		}
	}
	return nil
}

// Stats returns a snapshot of the named registration's counters.
func (e *Engine) Stats(name string) (Stats, bool) {
	e.mu.RLock()
	reg, ok := e.regs[name]
	e.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Processed: atomic.LoadUint64(&reg.stats.Processed),
		Dropped:   atomic.LoadUint64(&reg.stats.Dropped),
	}, true
}

// Unregister removes the named hook and closes its queue: it receives
// no new events, but events already queued are still delivered to it.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reg, ok := e.regs[name]; ok {
		e.stopLocked(reg)
		delete(e.regs, name)
	}
}

func (e *Engine) stopLocked(reg *registration) {
	reg.stopOnce.Do(func() { close(reg.queue) })
}

// Close stops every registered hook and waits for in-flight handlers
// to finish processing whatever was already queued.
func (e *Engine) Close() {
	e.mu.Lock()
	regs := make([]*registration, 0, len(e.regs))
	for _, r := range e.regs {
		e.stopLocked(r)
		regs = append(regs, r)
	}
	e.regs = make(map[string]*registration)
	e.mu.Unlock()

	for _, reg := range regs {
		<-reg.done
	}
}
