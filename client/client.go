package client

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

// Do performs one logical HTTP call with the configured retries. Any
// completed exchange is returned as a response, whatever its status; only
// transport failures, an open breaker or cancellation produce an error.
func (m *Manager) Do(ctx context.Context, method, rawURL string, body []byte, opts *types.CallOptions) (*types.ClientResponse, error) {
	if !m.IsRunning() {
		return nil, types.ErrClientNotRunning
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "url %q", rawURL)
	}

	timeout := m.config.DefaultTimeout
	retries := m.config.DefaultRetries
	var headers map[string]string

	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Retry > 0 {
			retries = opts.Retry
		}
		headers = opts.Headers
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(method)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if len(body) > 0 {
		req.SetBody(body)
		if len(req.Header.ContentType()) == 0 {
			req.Header.SetContentType("application/json")
		}
	}

	start := time.Now()
	breaker := m.breaker(parsed.Host)

	result, err := m.executeWithRetries(ctx, breaker, req, resp, timeout, retries)

	status := "success"
	if err != nil {
		status = "error"
	} else if result.StatusCode >= 400 {
		status = "http_error"
	}
	m.recordMetrics(parsed.Host, method, status, len(resp.Body()), time.Since(start))

	return result, err
}

func (m *Manager) executeWithRetries(ctx context.Context, breaker *CircuitBreaker, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration, maxRetries int) (*types.ClientResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !breaker.CanExecute() {
			return nil, types.Errorf(types.ErrCircuitBreakerOpen, "host %s", breaker.host)
		}

		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		resp.Reset()
		err := m.client.DoDeadline(req, resp, deadline)
		statusCode := resp.StatusCode()

		if IsCircuitBreakerFailure(statusCode, err) {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}

		if err == nil && (attempt == maxRetries || !IsRetryableError(statusCode, nil)) {
			return toClientResponse(resp), nil
		}

		if err != nil {
			base := types.ErrClientRequestFailed
			if errors.Is(err, fasthttp.ErrTimeout) {
				base = types.ErrClientTimeout
			}
			lastErr = types.Errorf(base, "%v", err)
			if !IsRetryableError(0, err) {
				return nil, lastErr
			}
		} else {
			lastErr = types.Errorf(types.ErrClientResponseInvalid, "HTTP %d", statusCode)
		}

		if attempt < maxRetries {
			backoff := m.backoff(attempt + 1)
			m.logger.Debug("Retrying request",
				zap.ByteString("uri", req.RequestURI()),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-m.ctx.Done():
				timer.Stop()
				return nil, types.ErrClientNotRunning
			}
		}
	}

	return nil, lastErr
}

func toClientResponse(resp *fasthttp.Response) *types.ClientResponse {
	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return &types.ClientResponse{
		StatusCode:  resp.StatusCode(),
		ContentType: string(resp.Header.ContentType()),
		Headers:     headers,
		Body:        body,
	}
}
