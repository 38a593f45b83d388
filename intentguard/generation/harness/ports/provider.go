package harnessports

import (
	"context"
)

// Message represents a single chat message used to build prompts.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InferenceOptions controls sampling for a single inference call. Providers receive it by
// value and never mutate it.
type InferenceOptions struct {
	Temperature float32
	Model       string
}

// Evaluation is one model judgment of an assertion.
type Evaluation struct {
	Result      bool
	Explanation string
}

// Provider is the abstraction for all inference backends (local runtime, in-process
// model, remote APIs). Every call is an independent, uncached sample.
type Provider interface {
	Predict(ctx context.Context, prompt []Message, opts InferenceOptions) (Evaluation, error)
}

// PromptFactory turns an assertion and its code objects into the chat prompt sent to a
// Provider.
type PromptFactory interface {
	CreatePrompt(assertion string, objects []CodeObject) []Message
}
