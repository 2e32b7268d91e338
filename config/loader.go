package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-fx/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes parses YAML, expanding ${VAR} references from the environment.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	config := l.Defaults()
	if err := yaml.Unmarshal(expanded, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "fx",
		Version: "dev",
		FX: &types.FXConfig{
			Sequence:         string(types.DefaultSequenceKey),
			Retry:            0,
			CacheTTL:         types.CacheOnce,
			AwaitMaxAttempts: 0,
			AwaitInterval:    100 * time.Millisecond,
			ManifestMaxDepth: 10,
			DrainTimeout:     10 * time.Second,
		},
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:               "localhost",
				Port:               8080,
				ReadTimeout:        30 * time.Second,
				WriteTimeout:       30 * time.Second,
				IdleTimeout:        120 * time.Second,
				ShutdownTimeout:    10 * time.Second,
				MaxRequestBodySize: 4 * 1024 * 1024,
			},
			TLS: &types.TLSConfig{},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled: true,
			Type:    "memory",
		},
		Storage: &types.StorageConfig{
			Type: "memory",
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
			Prefix:  "fx",
			Path:    "/metrics",
		},
		Health: &types.HealthConfig{
			Enabled: false,
			Path:    "/health",
		},
		Client: &types.ClientConfig{
			DefaultTimeout:     30 * time.Second,
			MaxIdleConnections: 100,
			IdleConnTimeout:    90 * time.Second,
			DefaultRetries:     0,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				HalfOpenRequests: 3,
			},
		},
		Tracing: &types.TracingConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "fx",
			SampleRate:  1.0,
		},
		Fetch: &types.FetchConfig{
			Root:  ".",
			Cache: true,
			Watch: false,
		},
		Env: &types.EnvConfig{
			File: ".env",
		},
		Middlewares: &types.MiddlewaresConfig{
			Enabled: true,
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Global:  true,
				Weight:  10,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Global:  true,
				Weight:  20,
				Params: map[string]interface{}{
					"log_level":   "info",
					"log_headers": false,
				},
			},
			CORS: &types.MiddlewareItemConfig{
				Enabled: true,
				Global:  true,
				Weight:  30,
				Params: map[string]interface{}{
					"allowed_origins": []string{"*"},
					"allowed_methods": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
					"allowed_headers": []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
					"max_age":         86400,
				},
			},
			RateLimit: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  40,
				Params: map[string]interface{}{
					"requests_per_window": 100,
					"window":              "1m",
				},
			},
			BodyLimit: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  50,
				Params: map[string]interface{}{
					"max_body_size": 10485760,
				},
			},
			Auth: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  60,
			},
			Signature: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  70,
			},
			Cache: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  80,
				Params: map[string]interface{}{
					"default_ttl": "5m",
				},
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: false,
				Global:  true,
				Weight:  90,
				Params: map[string]interface{}{
					"level":     4,
					"min_bytes": 1024,
				},
			},
		},
	}
}
