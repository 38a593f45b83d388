//go:build !llama || no_llama

package models

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewGGUFProvider_UnavailableWithoutLlamaTag(t *testing.T) {
	_, err := NewGGUFProvider(DefaultGGUFConfig("/models/IntentGuard-1.Q8_0.gguf"), zerolog.Nop())
	assert.ErrorIs(t, err, ErrLlamaUnavailable)
}

func TestGGUFConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultGGUFConfig("m.gguf").Validate())

	cfg := DefaultGGUFConfig("")
	assert.Error(t, cfg.Validate())

	cfg = DefaultGGUFConfig("m.gguf")
	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	var nilCfg *GGUFConfig
	assert.Error(t, nilCfg.Validate())
}
