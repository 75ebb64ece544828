// Package debounce delays a rapidly changing value until it has been quiet
// for a fixed period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer publishes the latest value passed to Set once no further Set
// has happened for the quiet period.
type Debouncer[T any] struct {
	mu      sync.Mutex
	timer   *time.Timer
	quiet   time.Duration
	publish func(T)
	pending T
	has     bool
	gen     uint64
	last    T
	hasLast bool
	stopped bool
}

// New creates a debouncer that calls publish after quiet has elapsed with no
// new value. publish runs on its own goroutine.
func New[T any](quiet time.Duration, publish func(T)) *Debouncer[T] {
	return &Debouncer[T]{
		quiet:   quiet,
		publish: publish,
	}
}

// Set records v and restarts the quiet period.
// Returns false once the debouncer has been stopped.
func (d *Debouncer[T]) Set(v T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending = v
	d.has = true
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
	return true
}

// fire publishes the pending value unless a later Set, Cancel or Stop has
// superseded the timer that scheduled it.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || !d.has || gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.take()
	d.mu.Unlock()

	d.publish(v)
}

// Flush publishes the pending value immediately, if there is one, on the
// calling goroutine.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.stopped || !d.has {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	v := d.take()
	d.mu.Unlock()

	d.publish(v)
	return true
}

// Cancel drops the pending value without publishing it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Stop cancels any pending value and makes every later Set a no-op.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether a value is waiting for the quiet period to elapse.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.has
}

// Value returns the last published value.
func (d *Debouncer[T]) Value() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

func (d *Debouncer[T]) take() T {
	v := d.pending
	var zero T
	d.pending = zero
	d.has = false
	d.last = v
	d.hasLast = true
	return v
}

func (d *Debouncer[T]) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	var zero T
	d.pending = zero
	d.has = false
}
