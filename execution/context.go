// Package execution composes lanes, the result cache and retries into a
// single entry point for running resource operations.
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/retry"
	"github.com/saiset-co/sai-fx/sequence"
	"github.com/saiset-co/sai-fx/types"
)

var _ types.ExecutionContext = (*Context)(nil)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

type Context struct {
	queue   *sequence.Queue
	cache   types.ResultCache
	retry   *retry.Runner
	logger  types.Logger
	metrics types.MetricsManager
	tracer  trace.Tracer

	awaitMaxAttempts int
	awaitInterval    time.Duration
}

type Option func(*Context)

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Context) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithRetryRunner(r *retry.Runner) Option {
	return func(c *Context) {
		if r != nil {
			c.retry = r
		}
	}
}

// WithAwaitBound makes Await give up after maxAttempts*interval.
func WithAwaitBound(maxAttempts int, interval time.Duration) Option {
	return func(c *Context) {
		c.awaitMaxAttempts = maxAttempts
		c.awaitInterval = interval
	}
}

// New builds an execution context. A nil cache disables result caching and
// a nil metrics manager disables instrumentation.
func New(resultCache types.ResultCache, logger types.Logger, metrics types.MetricsManager, opts ...Option) *Context {
	c := &Context{
		cache:   resultCache,
		logger:  logger,
		metrics: metrics,
		tracer:  noop.NewTracerProvider().Tracer("noop"),
	}
	c.retry = retry.NewRunner(logger, retry.WithMetrics(metrics))

	for _, opt := range opts {
		opt(c)
	}

	var queueOpts []sequence.Option
	if metrics != nil {
		pending := metrics.Gauge("fx_lanes_pending", nil)
		queueOpts = append(queueOpts, sequence.WithPendingObserver(func(n int) {
			pending.Set(float64(n))
		}))
	}
	c.queue = sequence.NewQueue(logger, queueOpts...)

	return c
}

func (c *Context) Queue() *sequence.Queue {
	return c.queue
}

// RunAsync schedules op on the lane named by cfg.SequenceKey. Inside its
// turn the operation is served from the result cache when a fresh entry
// exists; otherwise it runs through the retry runner and a success is
// cached. The returned future settles with the value or the final error.
func (c *Context) RunAsync(ctx context.Context, op types.Operation, cfg types.OperationConfig) *types.Future {
	if op == nil {
		return types.ResolvedFuture(nil, types.ErrOperationIsNil)
	}

	key := cfg.SequenceKey
	if key == "" {
		key = types.DefaultSequenceKey
	}

	opID := uuid.NewString()

	var then func()
	if cfg.ChainTo != "" {
		then = func() { c.queue.Wake(cfg.ChainTo) }
	}

	return c.queue.EnqueueThen(ctx, key, func(ctx context.Context) (interface{}, error) {
		return c.execute(ctx, opID, key, op, cfg)
	}, then)
}

func (c *Context) execute(ctx context.Context, opID string, key types.SequenceKey, op types.Operation, cfg types.OperationConfig) (interface{}, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "fx.operation", trace.WithAttributes(
		attribute.String("fx.operation_id", opID),
		attribute.String("fx.sequence", string(key)),
		attribute.String("fx.cache_key", cfg.CacheKey),
		attribute.Int("fx.retry", cfg.RetryCount),
	))
	defer span.End()

	fp, cacheable := c.fingerprint(cfg)

	if cacheable {
		if entry, ok := c.cache.Lookup(fp, cfg.CacheTTL); ok {
			span.SetAttributes(attribute.Bool("fx.cache_hit", true))
			c.record("cached", start)
			return entry.Value, nil
		}
	}

	value, err := c.retry.Run(ctx, op, cfg.RetryCount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.record("error", start)
		c.logger.Debug("Operation failed",
			zap.String("operation_id", opID),
			zap.String("sequence", string(key)),
			zap.Error(err))
		return nil, err
	}

	if cacheable {
		if err := c.cache.Put(fp, value, cfg.CacheTTL); err != nil {
			c.logger.Warn("Failed to cache operation result",
				zap.String("operation_id", opID),
				zap.Error(err))
		}
	}

	if cfg.OnComplete != nil {
		cfg.OnComplete(value)
	}

	c.record("ok", start)
	return value, nil
}

// fingerprint reports false for operations that must not touch the cache:
// caching disabled, no identity, or no cache at all.
func (c *Context) fingerprint(cfg types.OperationConfig) (types.Fingerprint, bool) {
	if c.cache == nil || !cfg.CacheEnabled() || cfg.CacheKey == "" {
		return "", false
	}

	fp, err := c.cache.ComputeFingerprint(cfg.CacheKey, cfg)
	if err != nil {
		c.logger.Warn("Skipping cache for operation", zap.String("cache_key", cfg.CacheKey), zap.Error(err))
		return "", false
	}
	return fp, true
}

// Run is RunAsync followed by Await.
func (c *Context) Run(ctx context.Context, op types.Operation, cfg types.OperationConfig) (interface{}, error) {
	return c.Await(ctx, c.RunAsync(ctx, op, cfg))
}

// Await normalizes v: a future is waited on, an operation is invoked and
// its result awaited in turn, anything else is returned unchanged. With an
// await bound configured, waiting on a future longer than
// maxAttempts*interval fails with ErrMaxAttemptsExceeded.
func (c *Context) Await(ctx context.Context, v interface{}) (interface{}, error) {
	var op types.Operation
	switch fn := v.(type) {
	case types.Operation:
		op = fn
	case func(context.Context) (interface{}, error):
		op = fn
	case func() (interface{}, error):
		op = func(context.Context) (interface{}, error) { return fn() }
	}
	if op != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return c.Await(ctx, value)
	}

	future, ok := v.(*types.Future)
	if !ok {
		return v, nil
	}

	if c.awaitMaxAttempts <= 0 || c.awaitInterval <= 0 {
		return future.Wait(ctx)
	}

	bound := time.Duration(c.awaitMaxAttempts) * c.awaitInterval
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-future.Done():
		return future.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, types.Errorf(types.ErrMaxAttemptsExceeded, "%d attempts of %s", c.awaitMaxAttempts, c.awaitInterval)
	}
}

// WaitForAll returns once every lane is empty. Work still in flight when
// the timeout fires keeps running. A non-positive timeout waits for ctx only.
func (c *Context) WaitForAll(ctx context.Context, timeout time.Duration) error {
	idle := c.queue.Idle()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return types.Errorf(types.ErrTimeout, "%d operations still pending after %s", c.queue.Pending(), timeout)
	}
}

func (c *Context) record(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.Counter("fx_operations_total", map[string]string{"status": status}).Inc()
	c.metrics.Histogram("fx_operation_duration_seconds", durationBuckets, nil).ObserveDuration(start)
}
