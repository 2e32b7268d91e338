package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	FX          *FXConfig          `yaml:"fx" json:"fx"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Client      *ClientConfig      `yaml:"client" json:"client"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Tracing     *TracingConfig     `yaml:"tracing" json:"tracing"`
	Fetch       *FetchConfig       `yaml:"fetch" json:"fetch"`
	Env         *EnvConfig         `yaml:"env" json:"env"`
}

type FXConfig struct {
	Sequence     string        `yaml:"sequence" json:"sequence"`
	Retry        int           `yaml:"retry" json:"retry" validate:"min=0"`
	CacheTTL     time.Duration `yaml:"cache_ttl" json:"cache_ttl" validate:"min=0"`
	DisableCache bool          `yaml:"disable_cache" json:"disable_cache"`
	// AwaitMaxAttempts bounds Await to AwaitMaxAttempts*AwaitInterval. Zero waits without bound.
	AwaitMaxAttempts int           `yaml:"await_max_attempts" json:"await_max_attempts" validate:"min=0"`
	AwaitInterval    time.Duration `yaml:"await_interval" json:"await_interval" validate:"min=0"`
	ManifestMaxDepth int           `yaml:"manifest_max_depth" json:"manifest_max_depth" validate:"min=0"`
	Manifests        []string      `yaml:"manifests" json:"manifests"`
	DrainTimeout     time.Duration `yaml:"drain_timeout" json:"drain_timeout" validate:"min=0"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

// TLSConfig serves either a certificate pair from disk or certificates
// obtained over ACME for Domains.
type TLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"cert_file" json:"cert_file"`
	KeyFile       string   `yaml:"key_file" json:"key_file"`
	AutoCert      bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains       []string `yaml:"domains" json:"domains" validate:"required_if=AutoCert true"`
	Email         string   `yaml:"email" json:"email"`
	CacheDir      string   `yaml:"cache_dir" json:"cache_dir"`
	ACMEDirectory string   `yaml:"acme_directory" json:"acme_directory"`
}

type HTTPConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestBodySize int           `yaml:"max_request_body_size" json:"max_request_body_size"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error fatal"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled       bool        `yaml:"enabled" json:"enabled"`
	Type          string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config        interface{} `yaml:"config" json:"config"`
	PruneSchedule string      `yaml:"prune_schedule" json:"prune_schedule"`
}

type StorageConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"omitempty,oneof=memory clover sqlite"`
	Path   string      `yaml:"path" json:"path"`
	Config interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type MiddlewaresConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Auth        *MiddlewareItemConfig `yaml:"auth" json:"auth"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Cache       *MiddlewareItemConfig `yaml:"cache" json:"cache"`
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
	Signature   *MiddlewareItemConfig `yaml:"signature" json:"signature"`
}

// MiddlewareItemConfig describes one middleware. Global middlewares run on
// every route; the rest run only when a route names them.
type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Global  bool                   `yaml:"global" json:"global"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	Path    string            `yaml:"path" json:"path"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type ClientConfig struct {
	DefaultTimeout     time.Duration         `yaml:"default_timeout" json:"default_timeout"`
	MaxIdleConnections int                   `yaml:"max_idle_connections" json:"max_idle_connections"`
	IdleConnTimeout    time.Duration         `yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
	DefaultRetries     int                   `yaml:"default_retries" json:"default_retries" validate:"min=0"`
	CircuitBreaker     *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" validate:"min=0,max=1"`
}

type FetchConfig struct {
	Root  string `yaml:"root" json:"root"`
	Cache bool   `yaml:"cache" json:"cache"`
	Watch bool   `yaml:"watch" json:"watch"`
}

type EnvConfig struct {
	File   string `yaml:"file" json:"file"`
	Prefix string `yaml:"prefix" json:"prefix"`
}
