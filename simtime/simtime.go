// Package simtime provides a deterministic simulation clock and event
// queue. Time is a float64 in seconds from the start of the scenario;
// events fire in (time, insertion) order so runs with the same seed
// and schedule are reproducible.
package simtime

import (
	"container/heap"
	"context"
	"sync"
)

// Clock tracks the current simulation time. It only moves forward.
type Clock struct {
	mu  sync.RWMutex
	now float64
}

// Now returns the current simulation time in seconds.
func (c *Clock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Clock) advanceTo(t float64) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}

// Event is a scheduled callback. Fn receives the simulation time at
// which the event fires.
type Event struct {
	Time float64
	Fn   func(t float64)

	seq uint64
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(a, b int) bool {
	if h[a].Time != h[b].Time {
		return h[a].Time < h[b].Time
	}
	return h[a].seq < h[b].seq
}

func (h eventHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Engine combines the clock with a min-heap event queue. It is not
// safe for concurrent scheduling while Run is in progress; the
// simulation loop is single-threaded by design.
type Engine struct {
	clock Clock
	queue eventHeap
	seq   uint64

	listeners []func(t float64)
}

// NewEngine returns an engine with the clock at zero.
func NewEngine() *Engine {
	e := &Engine{}
	heap.Init(&e.queue)
	return e
}

// Clock exposes the engine's clock for read access.
func (e *Engine) Clock() *Clock { return &e.clock }

// Now returns the current simulation time.
func (e *Engine) Now() float64 { return e.clock.Now() }

// Len returns the number of pending events.
func (e *Engine) Len() int { return len(e.queue) }

// Schedule enqueues fn to fire at time t. Events scheduled for the
// same instant fire in the order they were scheduled. Scheduling in
// the past fires at the current time instead of rewinding the clock.
func (e *Engine) Schedule(t float64, fn func(t float64)) {
	e.seq++
	heap.Push(&e.queue, &Event{Time: t, Fn: fn, seq: e.seq})
}

// After enqueues fn to fire d seconds from the current simulation time.
func (e *Engine) After(d float64, fn func(t float64)) {
	e.Schedule(e.clock.Now()+d, fn)
}

// AddListener registers a callback invoked after every event fires,
// with the simulation time at that point.
func (e *Engine) AddListener(fn func(t float64)) {
	e.listeners = append(e.listeners, fn)
}

// Step fires the earliest pending event, advancing the clock to its
// time. It reports false when the queue is empty.
func (e *Engine) Step() bool {
	if len(e.queue) == 0 {
		return false
	}
	ev := heap.Pop(&e.queue).(*Event)
	e.clock.advanceTo(ev.Time)
	if ev.Fn != nil {
		ev.Fn(e.clock.Now())
	}
	for _, fn := range e.listeners {
		fn(e.clock.Now())
	}
	return true
}

// Run fires events in order until the queue is empty, until is
// reached, or ctx is cancelled. Events scheduled at exactly until
// still fire. It returns ctx.Err when cancelled, nil otherwise.
func (e *Engine) Run(ctx context.Context, until float64) error {
	for len(e.queue) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.queue[0].Time > until {
			return nil
		}
		e.Step()
	}
	return nil
}
