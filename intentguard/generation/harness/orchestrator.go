package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidQuorum is returned for a quorum size below one.
	ErrInvalidQuorum = errors.New("quorum size must be at least 1")

	// ErrEmptyAssertion is returned when the assertion text is blank.
	ErrEmptyAssertion = errors.New("assertion cannot be empty")
)

// ConsensusOrchestrator answers an assertion about code objects by majority vote over
// independent provider samples, memoizing verdicts in a Cache.
type ConsensusOrchestrator struct {
	provider    ports.Provider
	prompts     ports.PromptFactory
	cache       ports.Cache
	limiter     ports.RateLimiter
	tracer      ports.Tracer
	metrics     *Metrics
	guardrails  *Guardrails
	logger      zerolog.Logger
	concurrency int

	flights singleflight.Group
}

// OrchestratorOption customizes a ConsensusOrchestrator.
type OrchestratorOption func(*ConsensusOrchestrator)

// WithConcurrency caps parallel provider calls per evaluation. Zero means one worker per
// quorum member.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *ConsensusOrchestrator) { o.concurrency = n }
}

// WithMetrics records cache, verdict and provider metrics.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *ConsensusOrchestrator) { o.metrics = m }
}

// WithGuardrails replaces the default request checks.
func WithGuardrails(g *Guardrails) OrchestratorOption {
	return func(o *ConsensusOrchestrator) { o.guardrails = g }
}

// NewConsensusOrchestrator creates an orchestrator. Nil adapters fall back to no-op
// implementations; provider is required.
func NewConsensusOrchestrator(
	provider ports.Provider,
	prompts ports.PromptFactory,
	cache ports.Cache,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	logger zerolog.Logger,
	opts ...OrchestratorOption,
) *ConsensusOrchestrator {
	if prompts == nil {
		prompts = NewPromptFactory()
	}
	if cache == nil {
		cache = NoopCache{}
	}
	if limiter == nil {
		limiter = noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = noOpTracer{}
	}

	o := &ConsensusOrchestrator{
		provider:   provider,
		prompts:    prompts,
		cache:      cache,
		limiter:    limiter,
		tracer:     tracer,
		guardrails: NewGuardrails(0),
		logger:     logger.With().Str("component", "consensus").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate returns the cached verdict for this request or computes it from QuorumSize
// provider samples. Identical concurrent requests share one computation.
func (o *ConsensusOrchestrator) Evaluate(ctx context.Context, assertion string, objects []ports.CodeObject, cfg ports.QuorumConfig) (ports.ConsensusResult, error) {
	if strings.TrimSpace(assertion) == "" {
		return ports.ConsensusResult{}, ErrEmptyAssertion
	}
	if cfg.QuorumSize < 1 {
		return ports.ConsensusResult{}, fmt.Errorf("%w: got %d", ErrInvalidQuorum, cfg.QuorumSize)
	}
	if err := o.guardrails.ValidateObjects(objects); err != nil {
		return ports.ConsensusResult{}, err
	}
	if missing := MissingObjects(assertion, objects); len(missing) > 0 {
		o.logger.Debug().Strs("placeholders", missing).Msg("assertion references names with no code object")
	}
	if o.provider == nil {
		return ports.ConsensusResult{}, errors.New("no inference provider configured")
	}

	sorted, objectsText, err := CanonicalObjects(objects)
	if err != nil {
		return ports.ConsensusResult{}, err
	}
	key := CacheKey(assertion, objectsText, cfg.Model, cfg.QuorumSize)

	ctx, finish := o.tracer.StartSpan(ctx, "consensus", map[string]any{
		"run_id":      uuid.NewString(),
		"cache_key":   key,
		"quorum_size": cfg.QuorumSize,
		"objects":     len(sorted),
	})

	if cached, ok := o.cache.Get(ctx, key); ok {
		o.metrics.cacheHit()
		o.tracer.Event(ctx, "cache_hit", map[string]any{"result": cached.Result})
		finish(nil)
		return cached, nil
	}
	o.metrics.cacheMiss()

	// The shared computation outlives any single caller; each caller stops waiting on its
	// own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := o.flights.DoChan(key, func() (any, error) {
		return o.runQuorum(flightCtx, key, assertion, sorted, cfg)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		finish(ctx.Err())
		return ports.ConsensusResult{}, ctx.Err()
	}

	if res.Shared {
		o.tracer.Event(ctx, "coalesced", nil)
	}
	finish(res.Err)
	if res.Err != nil {
		return ports.ConsensusResult{}, res.Err
	}
	return res.Val.(ports.ConsensusResult), nil
}

func (o *ConsensusOrchestrator) runQuorum(ctx context.Context, key, assertion string, objects []ports.CodeObject, cfg ports.QuorumConfig) (ports.ConsensusResult, error) {
	start := time.Now()
	prompt := o.prompts.CreatePrompt(assertion, objects)
	opts := cfg.Options()

	workers := o.concurrency
	if workers <= 0 || workers > cfg.QuorumSize {
		workers = cfg.QuorumSize
	}

	p := pool.NewWithResults[ports.Evaluation]().
		WithContext(ctx).
		WithMaxGoroutines(workers).
		WithCancelOnError().
		WithFirstError()
	for i := 0; i < cfg.QuorumSize; i++ {
		sample := i
		p.Go(func(ctx context.Context) (ports.Evaluation, error) {
			return o.sample(ctx, sample, prompt, opts)
		})
	}

	evals, err := resolveQuorum(p.Wait())
	if err == nil && len(evals) != cfg.QuorumSize {
		err = fmt.Errorf("quorum inference failed: got %d of %d evaluations", len(evals), cfg.QuorumSize)
	}
	if err != nil {
		o.logger.Error().Err(err).Str("cache_key", key).Msg("consensus failed")
		return ports.ConsensusResult{}, err
	}

	result := aggregate(evals)
	o.metrics.verdict(result.Result, time.Since(start))
	o.logger.Debug().Str("cache_key", key).Bool("result", result.Result).Int("quorum_size", cfg.QuorumSize).
		Dur("duration", time.Since(start)).Msg("consensus reached")

	if err := o.cache.Put(ctx, key, result); err != nil {
		o.logger.Warn().Err(err).Str("cache_key", key).Msg("failed to cache consensus result")
		o.tracer.Event(ctx, "cache_write_error", map[string]any{"error": err.Error()})
	}
	return result, nil
}

func (o *ConsensusOrchestrator) sample(ctx context.Context, i int, prompt []ports.Message, opts ports.InferenceOptions) (ports.Evaluation, error) {
	release, err := o.limiter.Acquire(ctx, "predict")
	if err != nil {
		return ports.Evaluation{}, fmt.Errorf("sample %d: rate limit: %w", i, err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "predict", map[string]any{"sample": i})
	start := time.Now()
	eval, err := o.provider.Predict(ctx, prompt, opts)
	finish(err)
	o.metrics.predict(time.Since(start), err)
	if err != nil {
		return ports.Evaluation{}, fmt.Errorf("sample %d: %w", i, err)
	}
	return eval, nil
}

// resolveQuorum decides what a partially failed quorum means. Any failed sample fails
// the whole consensus.
func resolveQuorum(evals []ports.Evaluation, err error) ([]ports.Evaluation, error) {
	if err != nil {
		return nil, fmt.Errorf("quorum inference failed: %w", err)
	}
	return evals, nil
}

// aggregate applies strict majority: the verdict is true only when more than half of the
// evaluations are true, so ties are false. A false verdict carries the first non-empty
// dissenting explanation.
func aggregate(evals []ports.Evaluation) ports.ConsensusResult {
	trueCount := 0
	explanation := ""
	for _, e := range evals {
		if e.Result {
			trueCount++
			continue
		}
		if explanation == "" {
			explanation = e.Explanation
		}
	}

	if trueCount > len(evals)/2 {
		return ports.ConsensusResult{Result: true}
	}
	return ports.ConsensusResult{Result: false, Explanation: explanation}
}
