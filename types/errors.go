package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrUnknownResourceType  = errors.New("unknown resource type")
	ErrUnsupportedDataType  = errors.New("unsupported data type")
	ErrInvalidManifestEntry = errors.New("invalid manifest entry")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrMethodNotFound       = errors.New("resource method not found")
	ErrModuleNotFound       = errors.New("module not found")
	ErrExportNotFound       = errors.New("module export not found")
	ErrHTTPStatus           = errors.New("unexpected http status")
)

var (
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	ErrRetryExhausted      = errors.New("retry exhausted")
	ErrTimeout             = errors.New("timeout")
	ErrOperationIsNil      = errors.New("operation is nil")
	ErrOperationPanicked   = errors.New("operation panicked")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrMethodNotAllowed     = errors.New("method not allowed")
)

var (
	ErrMiddlewareNotFound    = errors.New("middleware not found")
	ErrMiddlewareInvalidType = errors.New("middleware invalid type")
	ErrAuthTokenInvalid      = errors.New("auth token invalid")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrStorageTypeUnknown     = errors.New("storage type unknown")
	ErrStorageKeyNotFound     = errors.New("storage key not found")
	ErrStorageOperationFailed = errors.New("storage operation failed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrClientNotRunning      = errors.New("client not running")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrFetchFailed     = errors.New("fetch failed")
	ErrPathOutsideRoot = errors.New("path outside root")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentStartFailed = errors.New("component start failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotSupported     = errors.New("not supported")
)

// UnknownResourceTypeError is returned when a manifest leaf names a type
// the registry cannot build.
type UnknownResourceTypeError struct {
	Path string
	Type string
}

func (e *UnknownResourceTypeError) Error() string {
	return fmt.Sprintf("%s: %q at %q", ErrUnknownResourceType, e.Type, e.Path)
}

func (e *UnknownResourceTypeError) Is(target error) bool {
	return target == ErrUnknownResourceType
}

type InvalidManifestEntryError struct {
	Path   string
	Reason string
}

func (e *InvalidManifestEntryError) Error() string {
	return fmt.Sprintf("%s at %q: %s", ErrInvalidManifestEntry, e.Path, e.Reason)
}

func (e *InvalidManifestEntryError) Is(target error) bool {
	return target == ErrInvalidManifestEntry
}

// RetryExhaustedError wraps the error of the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
