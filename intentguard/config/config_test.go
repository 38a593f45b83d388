package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/intentguard/intentguard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Change to temp directory so ./intentguard.yaml lookups are isolated
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(name, content string) string {
	path := filepath.Join(suite.tempDir, name)
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultCacheDir, cfg.IntentGuard.CacheDir)
	assert.Equal(suite.T(), internal.DefaultStorageDir, cfg.IntentGuard.StorageDir)
	assert.Equal(suite.T(), 3, cfg.Quorum.Size)
	assert.Equal(suite.T(), "IntentGuard-1", cfg.Quorum.Model)
	assert.InDelta(suite.T(), 0.4, cfg.Quorum.Temperature, 1e-6)
	assert.Equal(suite.T(), BackendLlamafile, cfg.Runtime.Backend)
	assert.Equal(suite.T(), 8192, cfg.Runtime.ContextSize)
	assert.Equal(suite.T(), 2*time.Minute, cfg.Runtime.StartupTimeout)
	assert.Equal(suite.T(), 5*time.Minute, cfg.Runtime.InferenceTimeout)
	assert.Equal(suite.T(), internal.DefaultBinarySHA256, cfg.Runtime.BinarySHA256)
	assert.Empty(suite.T(), cfg.Runtime.ModelSHA256)
	assert.True(suite.T(), cfg.Harness.CacheEnabled)
	assert.False(suite.T(), cfg.Harness.RateLimitEnabled)
	assert.Equal(suite.T(), "info", cfg.Logging.Level)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configFile := suite.writeConfig("custom.yaml", `
intentguard:
  cache_dir: "./verdicts"
quorum:
  size: 5
  model: "IntentGuard-2"
  temperature: 0.1
runtime:
  model_sha256: "ABCDEF"
  startup_timeout: 30s
harness:
  rate_limit_enabled: true
  rate_limit_rps: 2
  rate_limit_burst: 1
`)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "./verdicts", cfg.IntentGuard.CacheDir)
	assert.Equal(suite.T(), 5, cfg.Quorum.Size)
	assert.Equal(suite.T(), "IntentGuard-2", cfg.Quorum.Model)
	assert.InDelta(suite.T(), 0.1, cfg.Quorum.Temperature, 1e-6)
	assert.Equal(suite.T(), "ABCDEF", cfg.Runtime.ModelSHA256)
	assert.Equal(suite.T(), 30*time.Second, cfg.Runtime.StartupTimeout)
	assert.True(suite.T(), cfg.Harness.RateLimitEnabled)
	assert.InDelta(suite.T(), 2.0, cfg.Harness.RateLimitRPS, 1e-9)
}

func (suite *ConfigTestSuite) TestLoadConfigFromWorkingDirectory() {
	suite.writeConfig("intentguard.yaml", "quorum:\n  size: 7\n")

	loader := NewLoader("")
	cfg, err := loader.Load()

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 7, cfg.Quorum.Size)
	assert.Contains(suite.T(), loader.ConfigFileUsed(), "intentguard.yaml")
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("INTENTGUARD_QUORUM_SIZE", "9")
	suite.T().Setenv("INTENTGUARD_RUNTIME_MODEL_SHA256", "deadbeef")
	suite.T().Setenv("INTENTGUARD_HARNESS_CACHE_ENABLED", "false")

	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 9, cfg.Quorum.Size)
	assert.Equal(suite.T(), "deadbeef", cfg.Runtime.ModelSHA256)
	assert.False(suite.T(), cfg.Harness.CacheEnabled)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	configFile := suite.writeConfig("malformed.yaml", `
quorum:
  size: 3
  invalid_yaml: [unclosed bracket
`)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	configFile := suite.writeConfig("invalid.yaml", "quorum:\n  size: 0\nruntime:\n  backend: \"cloud\"\n")

	cfg, err := LoadConfig(configFile)

	require.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
	assert.Contains(suite.T(), err.Error(), "quorum.size")
	assert.Contains(suite.T(), err.Error(), "runtime.backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero temperature", mutate: func(c *Config) { c.Quorum.Temperature = 0 }},
		{name: "negative temperature", mutate: func(c *Config) { c.Quorum.Temperature = -0.1 }, wantErr: true},
		{name: "empty cache dir", mutate: func(c *Config) { c.IntentGuard.CacheDir = "" }, wantErr: true},
		{name: "negative concurrency", mutate: func(c *Config) { c.Quorum.Concurrency = -1 }, wantErr: true},
		{name: "zero context", mutate: func(c *Config) { c.Runtime.ContextSize = 0 }, wantErr: true},
		{name: "zero startup timeout", mutate: func(c *Config) { c.Runtime.StartupTimeout = 0 }, wantErr: true},
		{name: "rate limit without rps", mutate: func(c *Config) {
			c.Harness.RateLimitEnabled = true
			c.Harness.RateLimitRPS = 0
		}, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "gguf backend", mutate: func(c *Config) { c.Runtime.Backend = BackendGGUF }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		if _, err := LoadConfig(""); err != nil {
			b.Fatal(err)
		}
	}
}
