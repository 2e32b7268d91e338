package types

import (
	"context"
	"time"
)

type ClientManager interface {
	LifecycleManager
	Do(ctx context.Context, method, url string, body []byte, opts *CallOptions) (*ClientResponse, error)
}

type CallOptions struct {
	Timeout time.Duration
	Retry   int
	Headers map[string]string
}

type ClientResponse struct {
	StatusCode  int
	ContentType string
	Headers     map[string]string
	Body        []byte
}
