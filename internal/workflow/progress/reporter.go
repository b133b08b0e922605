// Package progress buffers workflow events between a running loop and a slower consumer.
package progress

import (
	"context"
	"io"
	"sync"

	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

// DefaultCapacity is the number of progress events held before the oldest is dropped.
const DefaultCapacity = 32

// Reporter is a bounded, non-blocking event queue for one request.
//
// Emit never waits for the consumer. When capacity progress events are already queued,
// the oldest queued progress event is dropped to make room. Final and error events are
// never dropped and do not count against capacity.
type Reporter struct {
	capacity int
	signal   chan struct{}

	mu       sync.Mutex
	queue    []workflow.Event
	progress int
	dropped  int
	closed   bool
}

// NewReporter returns a Reporter holding at most capacity progress events.
func NewReporter(capacity int) *Reporter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Reporter{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Emit queues ev. Events emitted after Close are ignored.
func (r *Reporter) Emit(ev workflow.Event) {
	if ev == nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, isProgress := ev.(workflow.ProgressEvent); isProgress {
		if r.progress >= r.capacity {
			r.dropOldestProgress()
		}
		r.progress++
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	r.notify()
}

// dropOldestProgress must be called with mu held.
func (r *Reporter) dropOldestProgress() {
	for i, ev := range r.queue {
		if _, ok := ev.(workflow.ProgressEvent); ok {
			r.queue = append(r.queue[:i:i], r.queue[i+1:]...)
			r.progress--
			r.dropped++
			return
		}
	}
}

// Close ends the stream. Queued events remain readable.
func (r *Reporter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.notify()
}

// Next blocks until an event is available. It returns io.EOF once the reporter is closed
// and drained, or ctx.Err() if ctx ends first.
func (r *Reporter) Next(ctx context.Context) (workflow.Event, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			if _, ok := ev.(workflow.ProgressEvent); ok {
				r.progress--
			}
			r.mu.Unlock()
			return ev, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, io.EOF
		}
		r.mu.Unlock()

		select {
		case <-r.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dropped returns how many progress events were discarded.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Len returns the number of queued events.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reporter) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}
