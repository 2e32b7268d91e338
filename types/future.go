package types

import (
	"context"
	"sync"
)

// Future is a single-assignment result that can be awaited from any goroutine.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func ResolvedFuture(value interface{}, err error) *Future {
	f := NewFuture()
	f.Complete(value, err)
	return f
}

// Complete settles the future. Only the first call has an effect.
func (f *Future) Complete(value interface{}, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled value. It blocks until the future completes.
func (f *Future) Result() (interface{}, error) {
	<-f.done
	return f.value, f.err
}
