// Package future provides a completion signal that resolves exactly once,
// either successfully or with an error.
package future

import (
	"context"
	"sync"
)

// Future is resolved at most once. Later resolutions are ignored.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New returns an unresolved Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already resolved with err.
func Resolved(err error) *Future {
	f := New()
	f.Resolve(err)
	return f
}

// Resolve completes the future with err (nil means success). It reports
// whether this call performed the resolution.
func (f *Future) Resolve(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has been resolved.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the resolution error. It is only meaningful once Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then returns a Future resolved with the result of fn, which runs on its own
// goroutine after f resolves.
func (f *Future) Then(fn func(err error) error) *Future {
	next := New()
	go func() {
		<-f.done
		next.Resolve(fn(f.err))
	}()
	return next
}

// WaitAll waits for every future and returns the first error encountered in
// slice order. It never returns early on failure.
func WaitAll(ctx context.Context, futures ...*Future) error {
	var first error
	for _, f := range futures {
		if f == nil {
			continue
		}
		if err := f.Wait(ctx); err != nil && first == nil {
			first = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return first
}
