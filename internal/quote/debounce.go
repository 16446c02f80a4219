package quote

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces rapid input changes: the fetch runs only after the
// input has been quiet for the configured period, and a result is applied
// only if its input is still the latest one. Responses for superseded
// inputs are dropped even when they arrive out of order, and the fetch
// context of a superseded input is cancelled.
type Debouncer[T any] struct {
	quiet time.Duration
	fetch func(ctx context.Context, input string) (T, error)
	apply func(input string, result T, err error)

	mu       sync.Mutex
	gen      uint64
	timer    *time.Timer
	inflight context.CancelFunc
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewDebouncer builds a debouncer. fetch runs off the caller's goroutine;
// apply is invoked with the fetch outcome only while its input is current.
func NewDebouncer[T any](quiet time.Duration, fetch func(ctx context.Context, input string) (T, error), apply func(input string, result T, err error)) *Debouncer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer[T]{
		quiet:  quiet,
		fetch:  fetch,
		apply:  apply,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers a new input value, superseding any pending or in-flight
// computation for earlier values.
func (d *Debouncer[T]) Submit(input string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	if d.inflight != nil {
		d.inflight()
		d.inflight = nil
	}

	d.timer = time.AfterFunc(d.quiet, func() {
		d.fire(gen, input)
	})
}

func (d *Debouncer[T]) fire(gen uint64, input string) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.inflight = cancel
	d.mu.Unlock()

	result, err := d.fetch(ctx, input)
	cancel()

	d.mu.Lock()
	stale := d.closed || gen != d.gen
	d.mu.Unlock()
	if stale {
		return
	}
	d.apply(input, result, err)
}

// Close cancels any pending or in-flight computation; no apply runs after
// Close returns observable effects.
func (d *Debouncer[T]) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.inflight != nil {
		d.inflight()
		d.inflight = nil
	}
	d.mu.Unlock()
	d.cancel()
}
