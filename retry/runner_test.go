package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

func TestRunSucceedsFirstTime(t *testing.T) {
	r := NewRunner(logger.NewNop())

	calls := 0
	v, err := r.Run(t.Context(), func(context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestRunRecoversAfterFailures(t *testing.T) {
	m := metrics.NewMemoryMetrics(logger.NewNop(), nil)
	r := NewRunner(logger.NewNop(), WithMetrics(m))

	calls := 0
	v, err := r.Run(t.Context(), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("flaky")
		}
		return calls, nil
	}, 5)

	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2.0, m.Counter("fx_retries_total", nil).Get())
}

func TestRunExhaustedCarriesLastError(t *testing.T) {
	r := NewRunner(logger.NewNop())
	last := errors.New("attempt 3")

	calls := 0
	_, err := r.Run(t.Context(), func(context.Context) (interface{}, error) {
		calls++
		if calls == 3 {
			return nil, last
		}
		return nil, fmt.Errorf("attempt %d", calls)
	}, 2)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, types.ErrRetryExhausted)
	assert.ErrorIs(t, err, last)

	var exhausted *types.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestRunPanicIsIsolated(t *testing.T) {
	r := NewRunner(logger.NewNop())

	calls := 0
	v, err := r.Run(t.Context(), func(context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return "recovered", nil
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRunner(logger.NewNop(), WithBackoff(LinearBackoff(time.Hour)))
	ctx, cancel := context.WithCancel(t.Context())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, func(context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("fail")
		}, 3)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("runner did not observe cancellation")
	}
}

func TestRunNilOperation(t *testing.T) {
	_, err := NewRunner(logger.NewNop()).Run(t.Context(), nil, 1)
	assert.ErrorIs(t, err, types.ErrOperationIsNil)
}

func TestRunInvokesExactlyRetryPlusOne(t *testing.T) {
	r := NewRunner(logger.NewNop())

	rapid.Check(t, func(t *rapid.T) {
		retries := rapid.IntRange(0, 20).Draw(t, "retries")

		calls := 0
		_, err := r.Run(context.Background(), func(context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("always")
		}, retries)

		if !errors.Is(err, types.ErrRetryExhausted) {
			t.Fatalf("expected exhausted, got %v", err)
		}
		if calls != retries+1 {
			t.Fatalf("expected %d calls, got %d", retries+1, calls)
		}
	})
}
