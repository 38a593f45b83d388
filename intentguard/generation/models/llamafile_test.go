//go:build !windows

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBinaryFile = "llamafile.sh"

// scriptEnsurer writes a shell script in place of the server binary.
type scriptEnsurer struct {
	script string
	err    error
	calls  atomic.Int32
}

func (e *scriptEnsurer) Ensure(_ context.Context, a artifact.Artifact) error {
	e.calls.Add(1)
	if e.err != nil {
		return e.err
	}
	content := "GGUF weights"
	if filepath.Base(a.Path) == testBinaryFile {
		content = e.script
	}
	return os.WriteFile(a.Path, []byte(content), 0o644)
}

func testConfig(dir string) *LlamafileConfig {
	cfg := DefaultLlamafileConfig()
	cfg.StorageDir = dir
	cfg.BinaryFile = testBinaryFile
	cfg.ModelSHA256 = strings.Repeat("0", 64)
	cfg.StartupTimeout = 5 * time.Second
	cfg.InferenceTimeout = 5 * time.Second
	return cfg
}

func newTestLlamafile(t *testing.T, cfg *LlamafileConfig, ensurer artifact.Ensurer) *Llamafile {
	t.Helper()
	l, err := NewLlamafile(cfg, ensurer, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Shutdown() })
	return l
}

// completionServer answers chat completions with content and records request bodies.
func completionServer(t *testing.T, content string) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		writeCompletion(w, content)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "IntentGuard-1",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

// readyLlamafile returns a runtime wired straight to baseURL without launching anything.
func readyLlamafile(t *testing.T, baseURL string) *Llamafile {
	t.Helper()
	l := newTestLlamafile(t, testConfig(t.TempDir()), &scriptEnsurer{})
	l.state = StateReady
	l.client = newChatClient(baseURL+"/v1", 2*time.Second)
	return l
}

var testPrompt = []ports.Message{
	{Role: ports.RoleSystem, Content: "judge the code"},
	{Role: ports.RoleUser, Content: "assertion"},
}

func TestRuntimeState_String(t *testing.T) {
	assert.Equal(t, "unstarted", StateUnstarted.String())
	assert.Equal(t, "provisioning", StateProvisioning.String())
	assert.Equal(t, "launching", StateLaunching.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "RuntimeState(42)", RuntimeState(42).String())
}

func TestNewLlamafile_RequiresModelChecksum(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.ModelSHA256 = ""
	_, err := NewLlamafile(cfg, &scriptEnsurer{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrModelChecksumRequired)
	assert.Contains(t, err.Error(), "INTENTGUARD_RUNTIME_MODEL_SHA256")
}

func TestLlamafile_StartsLazilyAndPredicts(t *testing.T) {
	srv, bodies := completionServer(t, `{"thoughts":"ok","result":true,"explanation":null}<|eot_id|>`)
	dir := t.TempDir()
	script := fmt.Sprintf("echo \"llama server listening at http://127.0.0.1:%d\" >&2\nexec sleep 30\n", serverPort(t, srv))
	ensurer := &scriptEnsurer{script: script}

	l := newTestLlamafile(t, testConfig(dir), ensurer)
	assert.Equal(t, StateUnstarted, l.State())
	assert.Equal(t, int32(0), ensurer.calls.Load())

	eval, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{Temperature: 0.4, Model: "IntentGuard-1"})
	require.NoError(t, err)
	assert.True(t, eval.Result)
	assert.Empty(t, eval.Explanation)

	assert.Equal(t, StateReady, l.State())
	assert.Equal(t, serverPort(t, srv), l.Port())
	assert.Equal(t, int32(2), ensurer.calls.Load())

	require.Len(t, *bodies, 1)
	body := (*bodies)[0]
	assert.Equal(t, "IntentGuard-1", body["model"])
	assert.InDelta(t, 0.4, body["temperature"], 1e-6)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)

	info, err := os.Stat(filepath.Join(dir, testBinaryFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	health := l.Health()
	assert.Equal(t, int64(1), health.SuccessCalls)
	assert.True(t, health.IsHealthy)
}

func TestLlamafile_ConcurrentFirstCallsLaunchOnce(t *testing.T) {
	srv, _ := completionServer(t, `{"result":false,"explanation":"nope"}`)
	dir := t.TempDir()
	launches := filepath.Join(dir, "launches")
	script := fmt.Sprintf("echo started >> %s\necho \"server listening at http://127.0.0.1:%d\"\nexec sleep 30\n",
		launches, serverPort(t, srv))
	ensurer := &scriptEnsurer{script: script}
	l := newTestLlamafile(t, testConfig(dir), ensurer)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eval, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
			if err == nil && eval.Explanation != "nope" {
				err = errors.New("unexpected explanation " + eval.Explanation)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(2), ensurer.calls.Load())
	data, err := os.ReadFile(launches)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "started"))
}

func TestLlamafile_StartupTimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := fmt.Sprintf("echo $$ > %s\necho loading model >&2\nexec sleep 30\n", pidFile)
	cfg := testConfig(dir)
	cfg.StartupTimeout = 300 * time.Millisecond
	l := newTestLlamafile(t, cfg, &scriptEnsurer{script: script})

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortDetectionTimeout)
	assert.Equal(t, StateTerminated, l.State())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Error(t, syscall.Kill(pid, 0), "process should be gone")

	_, err = l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, ErrRuntimeTerminated)
	assert.ErrorIs(t, err, ErrPortDetectionTimeout)
}

func TestLlamafile_ShutdownInterruptsLaunch(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := fmt.Sprintf("echo $$ > %s\necho loading model >&2\nexec sleep 30\n", pidFile)
	cfg := testConfig(dir)
	cfg.StartupTimeout = 20 * time.Second
	l := newTestLlamafile(t, cfg, &scriptEnsurer{script: script})

	errc := make(chan error, 1)
	go func() {
		_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
		errc <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(pidFile)
		return l.State() == StateLaunching && err == nil
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateTerminated, l.State())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrRuntimeTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("Predict still blocked after Shutdown")
	}

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Error(t, syscall.Kill(pid, 0), "process should be gone")
}

func TestLlamafile_ProcessExitDuringStartup(t *testing.T) {
	l := newTestLlamafile(t, testConfig(t.TempDir()), &scriptEnsurer{script: "echo boom >&2\nexit 3\n"})

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessExitedDuringStartup)

	var exited *ProcessExitedError
	require.ErrorAs(t, err, &exited)
	assert.Equal(t, 3, exited.ExitCode)
	assert.Equal(t, StateTerminated, l.State())
}

func TestLlamafile_ProvisioningFailureIsRemembered(t *testing.T) {
	cause := &artifact.ChecksumMismatchError{Path: "x", Expected: "a", Actual: "b"}
	ensurer := &scriptEnsurer{err: cause}
	l := newTestLlamafile(t, testConfig(t.TempDir()), ensurer)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, artifact.ErrChecksumMismatch)

	_, err = l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, ErrRuntimeTerminated)
	assert.ErrorIs(t, err, artifact.ErrChecksumMismatch)
	assert.Equal(t, int32(1), ensurer.calls.Load())

	health := l.Health()
	assert.Equal(t, int64(2), health.FailureCalls)
	assert.False(t, health.IsHealthy)
}

func TestLlamafile_CancelledStartCanBeRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ensurer := &scriptEnsurer{err: context.Canceled}
	l := newTestLlamafile(t, testConfig(t.TempDir()), ensurer)

	_, err := l.Predict(ctx, testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateUnstarted, l.State())
}

func TestLlamafile_ShutdownIsIdempotent(t *testing.T) {
	srv, _ := completionServer(t, `{"result":true}`)
	script := fmt.Sprintf("echo \"server listening at http://127.0.0.1:%d\" >&2\nexec sleep 30\n", serverPort(t, srv))
	l := newTestLlamafile(t, testConfig(t.TempDir()), &scriptEnsurer{script: script})

	require.NoError(t, l.Start(context.Background()))
	pid := l.proc.pid()

	require.NoError(t, l.Shutdown())
	require.NoError(t, l.Shutdown())
	require.NoError(t, l.Close())

	assert.Equal(t, StateTerminated, l.State())
	assert.Zero(t, l.Port())
	assert.Error(t, syscall.Kill(pid, 0))

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, ErrRuntimeTerminated)
}

func TestLlamafile_ShutdownBeforeStart(t *testing.T) {
	ensurer := &scriptEnsurer{}
	l := newTestLlamafile(t, testConfig(t.TempDir()), ensurer)

	require.NoError(t, l.Shutdown())
	assert.Equal(t, StateTerminated, l.State())

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, ErrRuntimeTerminated)
	assert.Equal(t, int32(0), ensurer.calls.Load())
}

func TestLlamafile_UnexpectedExitTerminates(t *testing.T) {
	srv, _ := completionServer(t, `{"result":true}`)
	script := fmt.Sprintf("echo \"server listening at http://127.0.0.1:%d\" >&2\nsleep 0.2\nexit 9\n", serverPort(t, srv))
	l := newTestLlamafile(t, testConfig(t.TempDir()), &scriptEnsurer{script: script})

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return l.State() == StateTerminated }, 5*time.Second, 20*time.Millisecond)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	assert.ErrorIs(t, err, ErrRuntimeTerminated)
}

func TestPredict_ZeroTemperatureIsSent(t *testing.T) {
	srv, bodies := completionServer(t, `{"result":true}`)
	l := readyLlamafile(t, srv.URL)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{Temperature: 0})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)
	temp, ok := (*bodies)[0]["temperature"]
	require.True(t, ok, "temperature must be present in the request body")
	assert.InDelta(t, 0, temp, 1e-9)
	assert.Equal(t, "IntentGuard-1", (*bodies)[0]["model"])
}

func TestPredict_APIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model crashed","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)
	l := readyLlamafile(t, srv.URL)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "model crashed")
}

func TestPredict_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	l := readyLlamafile(t, srv.URL)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestPredict_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	t.Cleanup(srv.Close)
	l := readyLlamafile(t, srv.URL)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
}

func TestPredict_UnparseableOutput(t *testing.T) {
	srv, _ := completionServer(t, "I think the code is fine.")
	l := readyLlamafile(t, srv.URL)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	var parseErr *ResponseParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "I think the code is fine.", parseErr.Raw)
}

func TestPredict_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	l := readyLlamafile(t, url)

	_, err := l.Predict(context.Background(), testPrompt, ports.InferenceOptions{})
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
