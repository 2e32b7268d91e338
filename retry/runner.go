// Package retry re-runs a failing operation a bounded number of times.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

// Backoff returns the pause before the given retry (1-based).
type Backoff func(retry int) time.Duration

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }

// LinearBackoff waits step, 2*step, 3*step and so on.
func LinearBackoff(step time.Duration) Backoff {
	return func(retry int) time.Duration {
		return time.Duration(retry) * step
	}
}

type Runner struct {
	logger  types.Logger
	metrics types.MetricsManager
	backoff Backoff
}

type Option func(*Runner)

func WithBackoff(b Backoff) Option {
	return func(r *Runner) {
		if b != nil {
			r.backoff = b
		}
	}
}

func WithMetrics(m types.MetricsManager) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func NewRunner(logger types.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:  logger,
		backoff: NoBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run invokes op up to retryCount+1 times and returns the first success.
// When every attempt fails the result is a *types.RetryExhaustedError
// wrapping the last error. A panic in one attempt is reported as that
// attempt's error and does not stop the next one.
func (r *Runner) Run(ctx context.Context, op types.Operation, retryCount int) (interface{}, error) {
	if op == nil {
		return nil, types.ErrOperationIsNil
	}
	if retryCount < 0 {
		retryCount = 0
	}

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			r.logger.Debug("Retrying operation",
				zap.Int("retry", attempt),
				zap.Int("of", retryCount),
				zap.Error(lastErr))
			r.countRetry()

			if err := r.pause(ctx, attempt); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempts++
		value, err := r.attempt(ctx, op)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return nil, &types.RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

func (r *Runner) attempt(ctx context.Context, op types.Operation) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			err = types.Errorf(types.ErrOperationPanicked, "%s", fmt.Sprint(rec))
		}
	}()

	return op(ctx)
}

func (r *Runner) pause(ctx context.Context, retry int) error {
	d := r.backoff(retry)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) countRetry() {
	if r.metrics == nil {
		return
	}
	r.metrics.Counter("fx_retries_total", nil).Inc()
}
