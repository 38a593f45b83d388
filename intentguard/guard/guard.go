// Package guard is the caller-facing entry point: it checks natural-language assertions
// about code through a consensus of model evaluations.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/intentguard/intentguard/config"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness"
	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// Evaluator produces a consensus verdict. *harness.ConsensusOrchestrator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, assertion string, objects []ports.CodeObject, cfg ports.QuorumConfig) (ports.ConsensusResult, error)
}

// AssertionFailedError is returned by Assert when the consensus verdict is negative.
type AssertionFailedError struct {
	Assertion   string
	Explanation string
}

func (e *AssertionFailedError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\nExplanation: %s", e.Assertion, e.Explanation)
}

// Option overrides the default quorum for a single call.
type Option func(*ports.QuorumConfig)

func WithQuorumSize(n int) Option {
	return func(q *ports.QuorumConfig) { q.QuorumSize = n }
}

func WithModel(model string) Option {
	return func(q *ports.QuorumConfig) { q.Model = model }
}

func WithTemperature(t float32) Option {
	return func(q *ports.QuorumConfig) { q.Temperature = t }
}

// Guard evaluates assertions with a default quorum configuration.
type Guard struct {
	evaluator Evaluator
	defaults  ports.QuorumConfig
	runtime   harness.Runtime
	logger    zerolog.Logger
}

// New creates a Guard around an existing evaluator. The caller keeps ownership of
// whatever backs the evaluator.
func New(evaluator Evaluator, defaults ports.QuorumConfig, logger zerolog.Logger) *Guard {
	return &Guard{
		evaluator: evaluator,
		defaults:  defaults,
		logger:    logger.With().Str("component", "guard").Logger(),
	}
}

// Open wires a Guard from configuration: the configured runtime, caches, limiter and
// metrics. The runtime is launched lazily by the first evaluation. Close releases it.
func Open(ctx context.Context, cfg *config.Config, registry prometheus.Registerer, logger zerolog.Logger) (*Guard, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := harness.NewFactory(cfg, registry, logger)
	runtime, err := factory.CreateRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	orchestrator, err := factory.CreateOrchestrator(runtime)
	if err != nil {
		runtime.Close()
		return nil, err
	}

	g := New(orchestrator, factory.QuorumConfig(), logger)
	g.runtime = runtime
	return g, nil
}

// Test returns the consensus verdict for assertion over objects.
func (g *Guard) Test(ctx context.Context, assertion string, objects []ports.CodeObject, opts ...Option) (ports.ConsensusResult, error) {
	cfg := g.defaults
	for _, opt := range opts {
		opt(&cfg)
	}
	return g.evaluator.Evaluate(ctx, assertion, objects, cfg)
}

// Assert returns *AssertionFailedError when the verdict is negative, or the evaluation
// error when no verdict could be reached.
func (g *Guard) Assert(ctx context.Context, assertion string, objects []ports.CodeObject, opts ...Option) error {
	result, err := g.Test(ctx, assertion, objects, opts...)
	if err != nil {
		return err
	}
	if !result.Result {
		g.logger.Debug().Str("assertion", assertion).Str("explanation", result.Explanation).Msg("assertion failed")
		return &AssertionFailedError{Assertion: assertion, Explanation: result.Explanation}
	}
	return nil
}

// Close shuts down the runtime created by Open. It is a no-op for guards built with New.
func (g *Guard) Close() error {
	if g.runtime == nil {
		return nil
	}
	return g.runtime.Close()
}

// Objects converts a name-to-source map into code objects.
func Objects(sources map[string]string) []ports.CodeObject {
	objects := make([]ports.CodeObject, 0, len(sources))
	for name, code := range sources {
		objects = append(objects, ports.CodeObject{Name: name, Code: code})
	}
	return objects
}
