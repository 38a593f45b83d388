package models

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/intentguard/intentguard"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
)

const (
	// DefaultStartupTimeout bounds the wait for the server's listening line.
	DefaultStartupTimeout = 2 * time.Minute
	// DefaultInferenceTimeout bounds a single chat-completion request.
	DefaultInferenceTimeout = 5 * time.Minute
)

// LlamafileConfig holds configuration for the managed llamafile runtime.
type LlamafileConfig struct {
	// StorageDir holds the downloaded binary and weights.
	StorageDir string

	BinaryFile   string
	BinaryURL    string
	BinarySHA256 string

	ModelFile   string
	ModelURL    string
	ModelSHA256 string

	// ModelName is sent in the request body when InferenceOptions.Model is empty.
	ModelName   string
	ContextSize int

	StartupTimeout   time.Duration
	InferenceTimeout time.Duration
}

// DefaultLlamafileConfig returns the pinned IntentGuard-1 runtime configuration.
// ModelSHA256 has no default and must be configured.
func DefaultLlamafileConfig() *LlamafileConfig {
	return &LlamafileConfig{
		StorageDir:       internal.DefaultStorageDir,
		BinaryFile:       internal.DefaultBinaryFile,
		BinaryURL:        internal.DefaultBinaryURL,
		BinarySHA256:     internal.DefaultBinarySHA256,
		ModelFile:        internal.DefaultModelFile,
		ModelURL:         internal.DefaultModelURL,
		ModelName:        internal.DefaultModel,
		ContextSize:      internal.DefaultContextSize,
		StartupTimeout:   DefaultStartupTimeout,
		InferenceTimeout: DefaultInferenceTimeout,
	}
}

// BinaryArtifact is the pinned server binary.
func (c *LlamafileConfig) BinaryArtifact() artifact.Artifact {
	return artifact.Artifact{URL: c.BinaryURL, Path: filepath.Join(c.StorageDir, c.BinaryFile), SHA256: c.BinarySHA256}
}

// ModelArtifact is the pinned weights file.
func (c *LlamafileConfig) ModelArtifact() artifact.Artifact {
	return artifact.Artifact{URL: c.ModelURL, Path: filepath.Join(c.StorageDir, c.ModelFile), SHA256: c.ModelSHA256}
}

// ValidateConfig validates the llamafile runtime configuration
func ValidateConfig(config *LlamafileConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if config.StorageDir == "" {
		return fmt.Errorf("storage dir cannot be empty")
	}

	if config.BinaryFile == "" || config.BinaryURL == "" || config.BinarySHA256 == "" {
		return fmt.Errorf("binary file, url and sha256 must all be set")
	}

	if config.ModelFile == "" || config.ModelURL == "" {
		return fmt.Errorf("model file and url must be set")
	}

	if config.ModelSHA256 == "" {
		return ErrModelChecksumRequired
	}

	if config.ContextSize <= 0 {
		return fmt.Errorf("context size must be positive, got %d", config.ContextSize)
	}

	if config.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive, got %v", config.StartupTimeout)
	}

	if config.InferenceTimeout <= 0 {
		return fmt.Errorf("inference timeout must be positive, got %v", config.InferenceTimeout)
	}

	return nil
}

// RuntimeHealth tracks the outcome of predict calls against a provider.
type RuntimeHealth struct {
	IsHealthy      bool
	SuccessRate    float64
	AverageLatency time.Duration
	TotalCalls     int64
	SuccessCalls   int64
	FailureCalls   int64
	LastUsed       time.Time
	ErrorMessages  []string
}

// healthTracker is shared by providers to record call outcomes.
type healthTracker struct {
	mu     sync.RWMutex
	health RuntimeHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{health: RuntimeHealth{IsHealthy: true, SuccessRate: 1.0}}
}

// Health returns a snapshot of the provider's health.
func (h *healthTracker) Health() RuntimeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := h.health
	snapshot.ErrorMessages = append([]string(nil), h.health.ErrorMessages...)
	return snapshot
}

func (h *healthTracker) recordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.SuccessCalls++
	h.health.LastUsed = time.Now()

	if h.health.AverageLatency == 0 {
		h.health.AverageLatency = duration
	} else {
		alpha := 0.1
		h.health.AverageLatency = time.Duration(float64(h.health.AverageLatency)*(1-alpha) + float64(duration)*alpha)
	}

	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)
	h.health.IsHealthy = true
}

func (h *healthTracker) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.FailureCalls++
	h.health.LastUsed = time.Now()
	h.health.IsHealthy = false

	if len(h.health.ErrorMessages) >= 10 {
		h.health.ErrorMessages = h.health.ErrorMessages[1:]
	}
	h.health.ErrorMessages = append(h.health.ErrorMessages, err.Error())
	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)
}
