package models

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessExitedDuringStartup is matched by *ProcessExitedError.
	ErrProcessExitedDuringStartup = errors.New("runtime process exited during startup")

	// ErrPortDetectionTimeout means the server never announced its listening port.
	ErrPortDetectionTimeout = errors.New("timed out waiting for runtime to report its port")

	// ErrRuntimeTerminated is returned by Predict once the runtime was shut down or failed
	// to start. The startup failure, if any, is wrapped alongside it.
	ErrRuntimeTerminated = errors.New("runtime terminated")

	// ErrModelChecksumRequired means no pinned checksum is configured for the model weights.
	ErrModelChecksumRequired = errors.New("model sha256 must be set: add runtime.model_sha256 to intentguard.yaml or set INTENTGUARD_RUNTIME_MODEL_SHA256")

	// ErrLlamaUnavailable is returned by the in-process provider in builds without the
	// llama tag.
	ErrLlamaUnavailable = errors.New("llama.cpp not available in this build")
)

// ProcessExitedError carries the exit code of a server that died before becoming ready.
type ProcessExitedError struct {
	ExitCode int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("runtime process exited during startup with status %d", e.ExitCode)
}

func (e *ProcessExitedError) Is(target error) bool { return target == ErrProcessExitedDuringStartup }

// TransportError wraps an HTTP-level failure talking to the runtime.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "runtime transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a non-success status or an unusable completion from the runtime.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runtime API error: %d %s %s", e.StatusCode, e.Status, e.Body)
}

// ResponseParseError reports model output that does not match the evaluation schema.
type ResponseParseError struct {
	Raw string
	Err error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("could not parse model response: %v: %q", e.Err, e.Raw)
}

func (e *ResponseParseError) Unwrap() error { return e.Err }
