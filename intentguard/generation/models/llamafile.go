package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// RuntimeState is the lifecycle position of a managed runtime.
type RuntimeState int

const (
	StateUnstarted RuntimeState = iota
	StateProvisioning
	StateLaunching
	StateReady
	StateTerminated
)

func (s RuntimeState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateProvisioning:
		return "provisioning"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("RuntimeState(%d)", int(s))
	}
}

// Llamafile runs the evaluation model in a local llamafile server process and talks to it
// over the OpenAI-compatible chat completions API.
//
// The server is started lazily by the first Predict call. Once terminated, by Shutdown or
// by a failed start, the runtime stays terminated.
//
// Thread Safety: safe for concurrent use. Predict calls in the ready state run in parallel.
type Llamafile struct {
	config  *LlamafileConfig
	ensurer artifact.Ensurer
	logger  zerolog.Logger
	health  *healthTracker

	// startMu serializes launches; mu guards the fields below and is never held while
	// provisioning or waiting for the server.
	startMu sync.Mutex

	mu          sync.RWMutex
	state       RuntimeState
	proc        *serverProcess
	port        int
	client      *openai.Client
	startErr    error
	cancelStart context.CancelFunc
	startDone   chan struct{}
}

// NewLlamafile creates an unstarted runtime. Nothing is downloaded or launched until the
// first Predict.
func NewLlamafile(config *LlamafileConfig, ensurer artifact.Ensurer, logger zerolog.Logger) (*Llamafile, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if ensurer == nil {
		return nil, fmt.Errorf("artifact ensurer cannot be nil")
	}

	return &Llamafile{
		config:  config,
		ensurer: ensurer,
		logger:  logger.With().Str("component", "llamafile").Logger(),
		health:  newHealthTracker(),
		state:   StateUnstarted,
	}, nil
}

// State returns the current lifecycle state.
func (l *Llamafile) State() RuntimeState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Port returns the server port, or 0 when the runtime is not ready.
func (l *Llamafile) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port
}

// Health returns a snapshot of call outcomes.
func (l *Llamafile) Health() RuntimeHealth {
	return l.health.Health()
}

// Start brings the runtime to the ready state without issuing a prediction.
func (l *Llamafile) Start(ctx context.Context) error {
	_, err := l.ensureReady(ctx)
	return err
}

// Predict sends one chat completion request and parses the model's evaluation.
func (l *Llamafile) Predict(ctx context.Context, prompt []ports.Message, opts ports.InferenceOptions) (ports.Evaluation, error) {
	client, err := l.ensureReady(ctx)
	if err != nil {
		l.health.recordFailure(err)
		return ports.Evaluation{}, err
	}

	start := time.Now()
	eval, err := l.complete(ctx, client, prompt, opts)
	if err != nil {
		l.health.recordFailure(err)
		l.logger.Error().Err(err).Msg("prediction failed")
		return ports.Evaluation{}, err
	}

	duration := time.Since(start)
	l.health.recordSuccess(duration)
	l.logger.Debug().Bool("result", eval.Result).Dur("duration", duration).Msg("prediction completed")
	return eval, nil
}

func (l *Llamafile) complete(ctx context.Context, client *openai.Client, prompt []ports.Message, opts ports.InferenceOptions) (ports.Evaluation, error) {
	model := opts.Model
	if model == "" {
		model = l.config.ModelName
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(prompt))
	for _, m := range prompt {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// The client omits a zero temperature from the request body.
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return ports.Evaluation{}, classifyCompletionError(err)
	}

	if len(resp.Choices) == 0 {
		return ports.Evaluation{}, &APIError{StatusCode: http.StatusOK, Status: "200 OK", Body: "no choices in completion"}
	}

	return ParseEvaluation(resp.Choices[0].Message.Content)
}

func classifyCompletionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Status: apiErr.HTTPStatus, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Status: reqErr.HTTPStatus, Body: body}
	}

	return &TransportError{Err: err}
}

// ensureReady returns the client of a ready runtime, starting it if needed.
func (l *Llamafile) ensureReady(ctx context.Context) (*openai.Client, error) {
	l.mu.RLock()
	if l.state == StateReady {
		client := l.client
		l.mu.RUnlock()
		return client, nil
	}
	l.mu.RUnlock()

	l.startMu.Lock()
	defer l.startMu.Unlock()

	l.mu.Lock()
	switch l.state {
	case StateReady:
		client := l.client
		l.mu.Unlock()
		return client, nil
	case StateTerminated:
		err := l.terminatedErr()
		l.mu.Unlock()
		return nil, err
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.state = StateProvisioning
	l.cancelStart = cancel
	l.startDone = done
	l.mu.Unlock()

	proc, port, err := l.start(startCtx)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(done)
	l.cancelStart = nil
	l.startDone = nil

	if l.state == StateTerminated {
		// Shut down while starting.
		if proc != nil {
			proc.stop()
		}
		return nil, l.terminatedErr()
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation leaves the runtime retryable.
			l.state = StateUnstarted
			return nil, err
		}
		l.state = StateTerminated
		l.startErr = err
		return nil, err
	}

	l.proc = proc
	l.port = port
	l.client = newChatClient(fmt.Sprintf("http://127.0.0.1:%d/v1", port), l.config.InferenceTimeout)
	l.state = StateReady
	go l.watch(proc)
	l.logger.Info().Int("port", port).Int("pid", proc.pid()).Msg("runtime ready")
	return l.client, nil
}

// terminatedErr wraps the remembered startup failure, if any. Callers hold l.mu.
func (l *Llamafile) terminatedErr() error {
	if l.startErr != nil {
		return fmt.Errorf("%w: %w", ErrRuntimeTerminated, l.startErr)
	}
	return ErrRuntimeTerminated
}

// advance moves a start in progress to the next state unless it was shut down meanwhile.
func (l *Llamafile) advance(to RuntimeState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateTerminated {
		l.state = to
	}
}

// start provisions the artifacts and launches the server, returning the process once it
// reports its port. It runs without l.mu; cancelling ctx kills the process.
func (l *Llamafile) start(ctx context.Context) (*serverProcess, int, error) {
	binary := l.config.BinaryArtifact()
	weights := l.config.ModelArtifact()

	if err := l.ensurer.Ensure(ctx, binary); err != nil {
		return nil, 0, fmt.Errorf("provision runtime binary: %w", err)
	}
	if err := l.ensurer.Ensure(ctx, weights); err != nil {
		return nil, 0, fmt.Errorf("provision model weights: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	l.advance(StateLaunching)
	cmd := l.command(binary.Path, weights.Path)
	l.logger.Info().Str("binary", binary.Path).Str("model", weights.Path).Int("context_size", l.config.ContextSize).
		Msg("launching runtime")

	proc, err := startServerProcess(cmd, l.logger)
	if err != nil {
		return nil, 0, fmt.Errorf("launch runtime: %w", err)
	}

	timer := time.NewTimer(l.config.StartupTimeout)
	defer timer.Stop()

	select {
	case port := <-proc.port:
		return proc, port, nil

	case <-proc.exited:
		code := proc.exitCode()
		l.logger.Error().Int("status", code).Msg("runtime exited during startup")
		return nil, 0, &ProcessExitedError{ExitCode: code}

	case <-timer.C:
		l.logger.Error().Dur("timeout", l.config.StartupTimeout).Msg("runtime did not report a port, killing it")
		proc.stop()
		return nil, 0, ErrPortDetectionTimeout

	case <-ctx.Done():
		proc.stop()
		return nil, 0, ctx.Err()
	}
}

func (l *Llamafile) command(binaryPath, modelPath string) *exec.Cmd {
	args := []string{
		"--server",
		"-m", modelPath,
		"-c", fmt.Sprint(l.config.ContextSize),
		"--host", "127.0.0.1",
		"--nobrowser",
	}

	if runtime.GOOS == "windows" {
		return exec.Command(binaryPath, args...)
	}

	if err := os.Chmod(binaryPath, 0o755); err != nil {
		l.logger.Warn().Err(err).Str("binary", binaryPath).Msg("failed to make runtime executable")
	}
	return exec.Command("sh", append([]string{binaryPath}, args...)...)
}

// watch marks the runtime terminated if the server dies while it is ready.
func (l *Llamafile) watch(proc *serverProcess) {
	<-proc.exited

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc != proc || l.state != StateReady {
		return
	}

	code := proc.exitCode()
	l.logger.Error().Int("status", code).Msg("runtime exited unexpectedly")
	l.proc = nil
	l.port = 0
	l.client = nil
	l.state = StateTerminated
	l.startErr = fmt.Errorf("runtime process exited with status %d", code)
}

// Shutdown kills the server if it is running and waits for it to be reaped. A start in
// progress is cancelled and awaited. It is safe to call before start and more than once.
func (l *Llamafile) Shutdown() error {
	l.mu.Lock()
	if l.cancelStart != nil {
		l.cancelStart()
	}
	starting := l.startDone
	proc := l.proc
	l.proc = nil
	l.port = 0
	l.client = nil
	l.state = StateTerminated
	l.mu.Unlock()

	if proc != nil {
		proc.stop()
		l.logger.Info().Int("pid", proc.pid()).Msg("runtime shut down")
	}
	if starting != nil {
		<-starting
	}
	return nil
}

// Close implements io.Closer.
func (l *Llamafile) Close() error {
	return l.Shutdown()
}

func newChatClient(baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig("no-key")
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

var _ ports.Provider = (*Llamafile)(nil)
