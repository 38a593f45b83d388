package harness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ZanzyTHEbar/intentguard/intentguard/config"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Runtime is an inference backend owned by the caller, which must Close it.
type Runtime interface {
	ports.Provider
	Close() error
}

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg      *config.Config
	registry prometheus.Registerer
	logger   zerolog.Logger
}

// NewFactory creates a new harness factory. registry may be nil to skip metrics.
func NewFactory(cfg *config.Config, registry prometheus.Registerer, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// LlamafileConfig converts the runtime section into the managed runtime's settings.
func (f *Factory) LlamafileConfig() *models.LlamafileConfig {
	rc := f.cfg.Runtime
	return &models.LlamafileConfig{
		StorageDir:       f.cfg.IntentGuard.StorageDir,
		BinaryFile:       rc.BinaryFile,
		BinaryURL:        rc.BinaryURL,
		BinarySHA256:     rc.BinarySHA256,
		ModelFile:        rc.ModelFile,
		ModelURL:         rc.ModelURL,
		ModelSHA256:      rc.ModelSHA256,
		ModelName:        rc.ModelName,
		ContextSize:      rc.ContextSize,
		StartupTimeout:   rc.StartupTimeout,
		InferenceTimeout: rc.InferenceTimeout,
	}
}

// CreateProvisioner creates the artifact provisioner used by the runtime and `prepare`.
func (f *Factory) CreateProvisioner() *artifact.Provisioner {
	return artifact.NewProvisioner(nil, f.logger)
}

// CreateRuntime creates the configured inference backend. Nothing is launched yet for
// the llamafile backend; the gguf backend loads its weights immediately.
func (f *Factory) CreateRuntime(ctx context.Context) (Runtime, error) {
	switch f.cfg.Runtime.Backend {
	case config.BackendGGUF:
		lc := f.LlamafileConfig()
		if err := models.ValidateConfig(lc); err != nil {
			return nil, fmt.Errorf("invalid runtime configuration: %w", err)
		}
		weights := lc.ModelArtifact()
		if err := f.CreateProvisioner().Ensure(ctx, weights); err != nil {
			return nil, fmt.Errorf("provision model weights: %w", err)
		}
		gc := models.DefaultGGUFConfig(weights.Path)
		gc.ContextSize = f.cfg.Runtime.ContextSize
		gc.GPULayers = f.cfg.Runtime.GPULayers
		gc.BorrowTimeout = f.cfg.Runtime.InferenceTimeout
		if n := f.cfg.Quorum.Concurrency; n > 0 {
			gc.PoolSize = n
		}
		provider, err := models.NewGGUFProvider(gc, f.logger)
		if err != nil {
			return nil, err
		}
		return provider, nil

	default:
		runtime, err := models.NewLlamafile(f.LlamafileConfig(), f.CreateProvisioner(), f.logger)
		if err != nil {
			return nil, err
		}
		return runtime, nil
	}
}

// CreateDiskCache returns the on-disk result cache.
func (f *Factory) CreateDiskCache() *adapters.DiskCache {
	return adapters.NewDiskCache(f.cfg.IntentGuard.CacheDir, f.logger)
}

// CreateOrchestrator wires a ConsensusOrchestrator around provider.
func (f *Factory) CreateOrchestrator(provider ports.Provider) (*ConsensusOrchestrator, error) {
	var metrics *Metrics
	if f.registry != nil {
		m, err := NewMetrics(f.registry)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
	}

	return NewConsensusOrchestrator(
		provider,
		NewPromptFactory(),
		f.createCache(),
		f.createRateLimiter(),
		f.createTracer(),
		f.logger,
		WithConcurrency(f.cfg.Quorum.Concurrency),
		WithMetrics(metrics),
	), nil
}

// QuorumConfig returns the configured default quorum.
func (f *Factory) QuorumConfig() ports.QuorumConfig {
	return ports.QuorumConfig{
		QuorumSize:  f.cfg.Quorum.Size,
		Model:       f.cfg.Quorum.Model,
		Temperature: f.cfg.Quorum.Temperature,
	}
}

func (f *Factory) createCache() ports.Cache {
	hc := f.cfg.Harness
	if !hc.CacheEnabled {
		return NoopCache{}
	}

	disk := f.CreateDiskCache()
	if hc.MemoryCacheCapacity <= 0 {
		return disk
	}
	return adapters.NewTieredCache(adapters.NewMemoryCache(hc.MemoryCacheCapacity), disk)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	hc := f.cfg.Harness
	if !hc.RateLimitEnabled {
		return noOpRateLimiter{}
	}
	return adapters.NewRateLimiter(hc.RateLimitRPS, hc.RateLimitBurst)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CacheRoot resolves the cache directory to an absolute path for display.
func (f *Factory) CacheRoot() string {
	if abs, err := filepath.Abs(f.cfg.IntentGuard.CacheDir); err == nil {
		return abs
	}
	return f.cfg.IntentGuard.CacheDir
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (ports.ConsensusResult, bool) {
	return ports.ConsensusResult{}, false
}

func (NoopCache) Put(context.Context, string, ports.ConsensusResult) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = NoopCache{}
	_ ports.RateLimiter = noOpRateLimiter{}
	_ ports.Tracer      = noOpTracer{}
	_ Runtime           = (*models.Llamafile)(nil)
	_ Runtime           = (*models.GGUFProvider)(nil)
)
