package resource

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// APIClient issues requests relative to a base URL. JSON responses are
// decoded; anything else comes back as a string.
type APIClient struct {
	baseURL string
	headers map[string]string
	client  types.ClientManager
}

func newAPIResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		if deps.Client == nil {
			return nil, types.Errorf(types.ErrNotSupported, "api resource %s needs a client", path)
		}
		return NewAPIClient(cfg.BaseURL, cfg.Headers, deps.Client), nil
	})
}

func NewAPIClient(baseURL string, headers map[string]string, client types.ClientManager) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  client,
	}
}

func (a *APIClient) BaseURL() string {
	return a.baseURL
}

func (a *APIClient) Get(ctx context.Context, endpoint string, headers map[string]string) (interface{}, error) {
	return a.Request(ctx, fasthttp.MethodGet, endpoint, nil, headers)
}

func (a *APIClient) Post(ctx context.Context, endpoint string, body interface{}, headers map[string]string) (interface{}, error) {
	return a.Request(ctx, fasthttp.MethodPost, endpoint, body, headers)
}

func (a *APIClient) Put(ctx context.Context, endpoint string, body interface{}, headers map[string]string) (interface{}, error) {
	return a.Request(ctx, fasthttp.MethodPut, endpoint, body, headers)
}

func (a *APIClient) Patch(ctx context.Context, endpoint string, body interface{}, headers map[string]string) (interface{}, error) {
	return a.Request(ctx, fasthttp.MethodPatch, endpoint, body, headers)
}

func (a *APIClient) Delete(ctx context.Context, endpoint string, headers map[string]string) (interface{}, error) {
	return a.Request(ctx, fasthttp.MethodDelete, endpoint, nil, headers)
}

// Request sends body (marshalled to JSON unless already bytes or a string)
// and returns the decoded response. Statuses of 400 and above fail with
// types.ErrHTTPStatus.
func (a *APIClient) Request(ctx context.Context, method, endpoint string, body interface{}, headers map[string]string) (interface{}, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode request body")
	}

	merged := make(map[string]string, len(a.headers)+len(headers))
	for k, v := range a.headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}

	resp, err := a.client.Do(ctx, method, a.url(endpoint), payload, &types.CallOptions{Headers: merged})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= fasthttp.StatusBadRequest {
		return nil, types.Errorf(types.ErrHTTPStatus, "%s %s: %d", method, endpoint, resp.StatusCode)
	}

	return decodeBody(resp.ContentType, resp.Body)
}

// Method exposes the verbs by lower-case name. Arguments are
// (endpoint, [body], [headers]).
func (a *APIClient) Method(name string) (types.Method, bool) {
	method := strings.ToUpper(name)
	switch method {
	case fasthttp.MethodGet, fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodPatch, fasthttp.MethodDelete:
	default:
		return nil, false
	}

	return func(ctx context.Context, args ...interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, types.Errorf(types.ErrInvalidParameter, "%s needs an endpoint", name)
		}
		endpoint, ok := args[0].(string)
		if !ok {
			return nil, types.Errorf(types.ErrInvalidParameter, "endpoint must be a string")
		}

		var body interface{}
		var headers map[string]string
		rest := args[1:]
		if method == fasthttp.MethodGet || method == fasthttp.MethodDelete {
			if len(rest) > 0 {
				headers = toStringMap(rest[0])
			}
		} else {
			if len(rest) > 0 {
				body = rest[0]
			}
			if len(rest) > 1 {
				headers = toStringMap(rest[1])
			}
		}

		return a.Request(ctx, method, endpoint, body, headers)
	}, true
}

func (a *APIClient) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if endpoint == "" {
		return a.baseURL
	}
	return a.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return utils.Marshal(b)
	}
}

func decodeBody(contentType string, body []byte) (interface{}, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if !strings.Contains(contentType, "json") {
		return string(body), nil
	}

	var out interface{}
	if err := utils.Unmarshal(body, &out); err != nil {
		return nil, types.WrapError(err, "failed to decode response")
	}
	return out, nil
}

func toStringMap(v interface{}) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
