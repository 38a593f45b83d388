package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/intentguard/intentguard"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Backends understood by runtime.backend.
const (
	BackendLlamafile = "llamafile"
	BackendGGUF      = "gguf"
)

// EnvPrefix prefixes every environment override, e.g. INTENTGUARD_QUORUM_SIZE.
const EnvPrefix = "INTENTGUARD"

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	IntentGuard IntentGuardConfig `mapstructure:"intentguard"`
	Quorum      QuorumConfig      `mapstructure:"quorum"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Harness     HarnessConfig     `mapstructure:"harness"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// IntentGuardConfig stores filesystem locations.
type IntentGuardConfig struct {
	CacheDir   string `mapstructure:"cache_dir"`   // Result cache root
	StorageDir string `mapstructure:"storage_dir"` // Downloaded runtime artifacts
}

// QuorumConfig stores the default consensus parameters.
type QuorumConfig struct {
	Size        int     `mapstructure:"size"`        // Samples per assertion
	Model       string  `mapstructure:"model"`       // Model identifier (part of the cache key)
	Temperature float32 `mapstructure:"temperature"` // Sampling temperature
	Concurrency int     `mapstructure:"concurrency"` // Parallel samples, 0 = quorum size
}

// RuntimeConfig stores the inference backend settings.
type RuntimeConfig struct {
	Backend string `mapstructure:"backend"` // "llamafile" or "gguf"

	BinaryFile   string `mapstructure:"binary_file"`
	BinaryURL    string `mapstructure:"binary_url"`
	BinarySHA256 string `mapstructure:"binary_sha256"`

	ModelFile   string `mapstructure:"model_file"`
	ModelURL    string `mapstructure:"model_url"`
	ModelSHA256 string `mapstructure:"model_sha256"`
	ModelName   string `mapstructure:"model_name"` // Sent in chat requests

	ContextSize      int           `mapstructure:"context_size"`
	StartupTimeout   time.Duration `mapstructure:"startup_timeout"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`

	GPULayers int `mapstructure:"gpu_layers"` // gguf backend only
}

// HarnessConfig stores orchestration adapters.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled        bool `mapstructure:"cache_enabled"`         // Persist verdicts on disk
	MemoryCacheCapacity int  `mapstructure:"memory_cache_capacity"` // In-process LRU in front of disk, 0 disables

	// Rate limiting
	RateLimitEnabled bool    `mapstructure:"rate_limit_enabled"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`   // Sustained predict calls per second
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"` // Bucket size

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Log spans through zerolog
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"` // Console writer instead of JSON
}

// Loader reads configuration with its own viper instance so that loads are independent.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty configPath searches ./intentguard.yaml and the
// user config directory.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName(internal.DefaultAppName)
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. quorum.size becomes INTENTGUARD_QUORUM_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("intentguard.cache_dir", internal.DefaultCacheDir)
	v.SetDefault("intentguard.storage_dir", internal.DefaultStorageDir)

	v.SetDefault("quorum.size", internal.DefaultQuorumSize)
	v.SetDefault("quorum.model", internal.DefaultModel)
	v.SetDefault("quorum.temperature", internal.DefaultTemperature)
	v.SetDefault("quorum.concurrency", 0)

	v.SetDefault("runtime.backend", BackendLlamafile)
	v.SetDefault("runtime.binary_file", internal.DefaultBinaryFile)
	v.SetDefault("runtime.binary_url", internal.DefaultBinaryURL)
	v.SetDefault("runtime.binary_sha256", internal.DefaultBinarySHA256)
	v.SetDefault("runtime.model_file", internal.DefaultModelFile)
	v.SetDefault("runtime.model_url", internal.DefaultModelURL)
	v.SetDefault("runtime.model_sha256", "")
	v.SetDefault("runtime.model_name", internal.DefaultModel)
	v.SetDefault("runtime.context_size", internal.DefaultContextSize)
	v.SetDefault("runtime.startup_timeout", "2m")
	v.SetDefault("runtime.inference_timeout", "5m")
	v.SetDefault("runtime.gpu_layers", 0)

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.memory_cache_capacity", 256)
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_rps", 4.0)
	v.SetDefault("harness.rate_limit_burst", 4)
	v.SetDefault("harness.enable_tracing", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)
}

// Load reads the config file, if any, applies environment overrides and validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange whenever the loaded config file changes on disk. Callers re-run
// Load to pick up the new values.
func (l *Loader) Watch(onChange func(fsnotify.Event)) {
	l.v.OnConfigChange(onChange)
	l.v.WatchConfig()
}

// Default returns the built-in configuration without reading files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Built-in defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if c.IntentGuard.CacheDir == "" {
		errs = append(errs, errors.New("intentguard.cache_dir cannot be empty"))
	}
	if c.Quorum.Size < 1 {
		errs = append(errs, fmt.Errorf("quorum.size must be at least 1, got %d", c.Quorum.Size))
	}
	if c.Quorum.Temperature < 0 || c.Quorum.Temperature > 2 {
		errs = append(errs, fmt.Errorf("quorum.temperature must be within [0, 2], got %v", c.Quorum.Temperature))
	}
	if c.Quorum.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("quorum.concurrency cannot be negative, got %d", c.Quorum.Concurrency))
	}

	switch c.Runtime.Backend {
	case BackendLlamafile, BackendGGUF:
	default:
		errs = append(errs, fmt.Errorf("runtime.backend must be %q or %q, got %q", BackendLlamafile, BackendGGUF, c.Runtime.Backend))
	}
	if c.Runtime.ContextSize <= 0 {
		errs = append(errs, fmt.Errorf("runtime.context_size must be positive, got %d", c.Runtime.ContextSize))
	}
	if c.Runtime.StartupTimeout <= 0 || c.Runtime.InferenceTimeout <= 0 {
		errs = append(errs, errors.New("runtime timeouts must be positive"))
	}

	if c.Harness.MemoryCacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("harness.memory_cache_capacity cannot be negative, got %d", c.Harness.MemoryCacheCapacity))
	}
	if c.Harness.RateLimitEnabled && (c.Harness.RateLimitRPS <= 0 || c.Harness.RateLimitBurst < 1) {
		errs = append(errs, errors.New("harness.rate_limit_rps and harness.rate_limit_burst must be positive when rate limiting is enabled"))
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}
