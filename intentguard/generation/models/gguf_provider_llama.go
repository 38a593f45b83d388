//go:build llama && !no_llama

package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// GGUFProvider evaluates prompts with llama.cpp linked into the process. Loaded model
// instances are pooled; each Predict borrows one for the duration of the call.
type GGUFProvider struct {
	config *GGUFConfig
	logger zerolog.Logger
	health *healthTracker

	mu     sync.RWMutex
	closed bool
	pool   chan *llama.LLama
}

// NewGGUFProvider loads PoolSize instances of the model.
func NewGGUFProvider(config *GGUFConfig, logger zerolog.Logger) (*GGUFProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &GGUFProvider{
		config: config,
		logger: logger.With().Str("component", "gguf").Str("model_path", config.ModelPath).Logger(),
		health: newHealthTracker(),
		pool:   make(chan *llama.LLama, config.PoolSize),
	}

	for i := 0; i < config.PoolSize; i++ {
		model, err := llama.New(config.ModelPath,
			llama.SetContext(config.ContextSize),
			llama.SetGPULayers(config.GPULayers),
		)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.pool <- model
		p.logger.Debug().Int("instance", i).Msg("loaded model instance")
	}

	p.logger.Info().Int("pool_size", config.PoolSize).Msg("gguf provider initialized")
	return p, nil
}

func (p *GGUFProvider) borrow(ctx context.Context) (*llama.LLama, error) {
	borrowCtx, cancel := context.WithTimeout(ctx, p.config.BorrowTimeout)
	defer cancel()

	select {
	case model := <-p.pool:
		return model, nil
	case <-borrowCtx.Done():
		return nil, fmt.Errorf("borrow model: %w", borrowCtx.Err())
	}
}

// Predict renders the conversation with the Llama-3 template and parses the completion.
func (p *GGUFProvider) Predict(ctx context.Context, prompt []ports.Message, opts ports.InferenceOptions) (ports.Evaluation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ports.Evaluation{}, ErrRuntimeTerminated
	}

	text, err := RenderChat(prompt)
	if err != nil {
		return ports.Evaluation{}, fmt.Errorf("render prompt: %w", err)
	}

	model, err := p.borrow(ctx)
	if err != nil {
		p.health.recordFailure(err)
		return ports.Evaluation{}, err
	}
	defer func() { p.pool <- model }()

	start := time.Now()
	out, err := model.Predict(text,
		llama.SetTemperature(opts.Temperature),
		llama.SetTokens(p.config.MaxTokens),
		llama.SetStopWords(EndOfTurnToken),
	)
	if err != nil {
		p.health.recordFailure(err)
		return ports.Evaluation{}, fmt.Errorf("prediction failed: %w", err)
	}

	eval, err := ParseEvaluation(out)
	if err != nil {
		p.health.recordFailure(err)
		return ports.Evaluation{}, err
	}

	p.health.recordSuccess(time.Since(start))
	return eval, nil
}

// Health returns a snapshot of call outcomes.
func (p *GGUFProvider) Health() RuntimeHealth {
	return p.health.Health()
}

// Close frees every pooled model. In-flight predictions finish first.
func (p *GGUFProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	for {
		select {
		case model := <-p.pool:
			model.Free()
		default:
			p.logger.Info().Msg("gguf provider closed")
			return nil
		}
	}
}

var _ ports.Provider = (*GGUFProvider)(nil)
