package serial

import (
	"context"
	"sync"
)

// Future is the outcome of an asynchronous channel operation. It completes
// exactly once.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}

// complete resolves the future and reports whether this call did so.
func (f *Future) complete(err error) bool {
	ok := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed when the operation finishes.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the operation has finished.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the operation's error, or nil if it succeeded or has not
// finished yet.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
