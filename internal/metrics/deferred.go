package metrics

import (
	"context"
	"sync"
)

type deferredKey struct{}

// Deferred holds observations made inside a database transaction until it
// commits. Call Reset at the start of every attempt and Flush after commit;
// observations of a rolled-back attempt are never recorded.
type Deferred struct {
	mu      sync.Mutex
	pending []func()
	flushed bool
}

// WithDeferred returns a context whose Posting and CouponTransition
// observations are buffered in the returned Deferred.
func WithDeferred(ctx context.Context) (context.Context, *Deferred) {
	d := &Deferred{}
	return context.WithValue(ctx, deferredKey{}, d), d
}

func (d *Deferred) Reset() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// Flush records everything buffered so far. Observations made after Flush
// are recorded immediately.
func (d *Deferred) Flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.flushed = true
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (d *Deferred) add(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flushed {
		return false
	}
	d.pending = append(d.pending, fn)
	return true
}

func observe(ctx context.Context, fn func()) {
	if d, ok := ctx.Value(deferredKey{}).(*Deferred); ok && d.add(fn) {
		return
	}
	fn()
}
