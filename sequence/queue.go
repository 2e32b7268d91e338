// Package sequence runs operations in named lanes. Operations sharing a lane
// run one at a time in submission order; separate lanes run concurrently.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

var settled = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type lane struct {
	tail chan struct{}
	size int
}

type Queue struct {
	logger   types.Logger
	mu       sync.Mutex
	lanes    map[types.SequenceKey]*lane
	pending  int
	idle     chan struct{}
	observer func(pending int)
}

type Option func(*Queue)

// WithPendingObserver reports every change of the pending count. fn runs
// under the queue lock and must not call back into the queue.
func WithPendingObserver(fn func(pending int)) Option {
	return func(q *Queue) {
		q.observer = fn
	}
}

func NewQueue(logger types.Logger, opts ...Option) *Queue {
	q := &Queue{
		logger: logger,
		lanes:  make(map[types.SequenceKey]*lane),
		idle:   settled,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules op behind everything already queued on key. The lane
// tail is swapped under the lock before the operation goroutine starts, so
// concurrent callers always observe a consistent order.
func (q *Queue) Enqueue(ctx context.Context, key types.SequenceKey, op types.Operation) *types.Future {
	return q.EnqueueThen(ctx, key, op, nil)
}

// EnqueueThen is Enqueue with a callback that runs once op's turn has
// settled: its future is complete and the next operation on key may start.
// Work the callback enqueues is counted before op leaves the pending count,
// so the queue does not go idle in between.
func (q *Queue) EnqueueThen(ctx context.Context, key types.SequenceKey, op types.Operation, then func()) *types.Future {
	future := types.NewFuture()
	if op == nil {
		future.Complete(nil, types.ErrOperationIsNil)
		return future
	}

	done := make(chan struct{})

	q.mu.Lock()
	l, exists := q.lanes[key]
	if !exists {
		l = &lane{tail: settled}
		q.lanes[key] = l
	}
	prev := l.tail
	l.tail = done
	l.size++
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.observe()
	q.mu.Unlock()

	go q.run(ctx, key, l, prev, done, op, future, then)

	return future
}

// Wake pushes a no-op onto key without waiting for it.
func (q *Queue) Wake(key types.SequenceKey) {
	q.Enqueue(context.Background(), key, func(context.Context) (interface{}, error) {
		return nil, nil
	})
}

// Pending reports operations that were enqueued and have not settled yet.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) LaneSize(key types.SequenceKey) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[key]; ok {
		return l.size
	}
	return 0
}

func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Idle returns a channel closed once no lane has outstanding work. The
// channel is replaced whenever new work arrives on an idle queue.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *Queue) run(ctx context.Context, key types.SequenceKey, l *lane, prev, done chan struct{}, op types.Operation, future *types.Future, then func()) {
	defer func() {
		close(done)
		if then != nil {
			then()
		}
		q.settle(key, l, done)
	}()

	<-prev

	if err := ctx.Err(); err != nil {
		future.Complete(nil, err)
		return
	}

	value, err := q.invoke(ctx, key, op)
	future.Complete(value, err)
}

func (q *Queue) invoke(ctx context.Context, key types.SequenceKey, op types.Operation) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("Operation panicked",
				zap.String("sequence", string(key)),
				zap.Any("panic", rec))
			value = nil
			err = types.Errorf(types.ErrOperationPanicked, "%s", fmt.Sprint(rec))
		}
	}()

	return op(ctx)
}

func (q *Queue) settle(key types.SequenceKey, l *lane, done chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l.size--
	if l.size == 0 && l.tail == done && q.lanes[key] == l {
		delete(q.lanes, key)
	}

	q.pending--
	q.observe()
	if q.pending == 0 {
		close(q.idle)
	}
}

func (q *Queue) observe() {
	if q.observer != nil {
		q.observer(q.pending)
	}
}
