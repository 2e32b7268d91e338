package env

import (
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

// Source resolves environment values from an optional dotenv file layered
// under the process environment. Keys are case-insensitive.
type Source struct {
	logger types.Logger
	fs     afero.Fs
	config *types.EnvConfig
	viper  *viper.Viper
	mu     sync.RWMutex
}

type Option func(*Source)

// WithFs reads the dotenv file from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Source) { s.fs = fs }
}

func NewSource(logger types.Logger, config *types.EnvConfig, opts ...Option) (*Source, error) {
	if config == nil {
		config = &types.EnvConfig{}
	}

	s := &Source{
		logger: logger,
		fs:     afero.NewOsFs(),
		config: config,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the dotenv file. A missing file is not an error.
func (s *Source) Reload() error {
	v := viper.New()
	v.SetFs(s.fs)
	if s.config.Prefix != "" {
		v.SetEnvPrefix(s.config.Prefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if s.config.File != "" {
		exists, err := afero.Exists(s.fs, s.config.File)
		if err != nil {
			return types.Errorf(types.ErrConfigLoadFailed, "%s: %v", s.config.File, err)
		}

		if exists {
			v.SetConfigFile(s.config.File)
			v.SetConfigType("env")
			if err = v.ReadInConfig(); err != nil {
				return types.Errorf(types.ErrConfigParseFailed, "%s: %v", s.config.File, err)
			}
			s.logger.Debug("Env file loaded",
				zap.String("file", s.config.File),
				zap.Int("keys", len(v.AllKeys())))
		}
	}

	s.mu.Lock()
	s.viper = v
	s.mu.Unlock()
	return nil
}

// Get returns the value for key, or "" when it is unset.
func (s *Source) Get(key string) string {
	value, _ := s.Lookup(key)
	return value
}

func (s *Source) Lookup(key string) (string, bool) {
	s.mu.RLock()
	v := s.viper
	s.mu.RUnlock()

	if !v.IsSet(key) {
		return "", false
	}
	return v.GetString(key), true
}

// Set overrides key for the lifetime of the source.
func (s *Source) Set(key, value string) {
	s.mu.RLock()
	v := s.viper
	s.mu.RUnlock()

	v.Set(key, value)
}

// Keys lists keys defined by the dotenv file or Set.
func (s *Source) Keys() []string {
	s.mu.RLock()
	v := s.viper
	s.mu.RUnlock()

	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}
