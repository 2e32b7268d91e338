package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one upstream host. After FailureThreshold
// consecutive failures it rejects calls for RecoveryTimeout, then lets
// calls through half-open until HalfOpenRequests of them succeed.
type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	host      string
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
	mu        sync.Mutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, host string) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		logger: logger,
		host:   host,
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) enabled() bool {
	return cb != nil && cb.config != nil && cb.config.Enabled
}

func (cb *CircuitBreaker) CanExecute() bool {
	if !cb.enabled() {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			return false
		}
		cb.transition(BreakerHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenRequests {
			cb.transition(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.enabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	if !cb.enabled() {
		return BreakerClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.successes = 0

	switch to {
	case BreakerOpen:
		cb.openedAt = cb.now()
	case BreakerClosed:
		cb.failures = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("host", cb.host),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// IsCircuitBreakerFailure reports outcomes that count against the upstream.
func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableError reports outcomes worth another attempt.
func IsRetryableError(statusCode int, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return !errors.Is(err, types.ErrCircuitBreakerOpen)
	}

	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}
