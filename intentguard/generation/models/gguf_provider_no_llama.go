//go:build !llama || no_llama

package models

import (
	"context"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/rs/zerolog"
)

// GGUFProvider is unavailable in builds without the llama tag.
type GGUFProvider struct{}

// NewGGUFProvider always fails with ErrLlamaUnavailable in this build.
func NewGGUFProvider(config *GGUFConfig, logger zerolog.Logger) (*GGUFProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger.Warn().Msg("in-process backend requested but this binary was built without the llama tag")
	return nil, ErrLlamaUnavailable
}

func (p *GGUFProvider) Predict(context.Context, []ports.Message, ports.InferenceOptions) (ports.Evaluation, error) {
	return ports.Evaluation{}, ErrLlamaUnavailable
}

func (p *GGUFProvider) Health() RuntimeHealth { return RuntimeHealth{} }

func (p *GGUFProvider) Close() error { return nil }

var _ ports.Provider = (*GGUFProvider)(nil)
