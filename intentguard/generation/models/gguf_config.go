package models

import (
	"fmt"
	"time"

	internal "github.com/ZanzyTHEbar/intentguard/intentguard"
)

// GGUFConfig configures the in-process llama.cpp backend.
type GGUFConfig struct {
	ModelPath     string
	ContextSize   int
	GPULayers     int
	PoolSize      int
	MaxTokens     int
	BorrowTimeout time.Duration
}

// DefaultGGUFConfig returns settings matching the managed runtime.
func DefaultGGUFConfig(modelPath string) *GGUFConfig {
	return &GGUFConfig{
		ModelPath:     modelPath,
		ContextSize:   internal.DefaultContextSize,
		PoolSize:      1,
		MaxTokens:     1024,
		BorrowTimeout: DefaultInferenceTimeout,
	}
}

// Validate checks the in-process backend configuration.
func (c *GGUFConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if c.ContextSize <= 0 {
		return fmt.Errorf("context size must be positive, got %d", c.ContextSize)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.BorrowTimeout <= 0 {
		return fmt.Errorf("borrow timeout must be positive, got %v", c.BorrowTimeout)
	}
	return nil
}
