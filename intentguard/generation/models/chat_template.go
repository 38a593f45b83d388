package models

import (
	"strings"
	"text/template"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// Llama3Template renders a conversation in the Llama-3 instruct format used by the
// IntentGuard-1 weights.
const Llama3Template = `<|begin_of_text|>{{range .Messages}}<|start_header_id|>{{.Role}}<|end_header_id|>

{{.Content}}<|eot_id|>{{end}}{{if .AddGenerationPrompt}}<|start_header_id|>assistant<|end_header_id|>

{{end}}`

var llama3 = template.Must(template.New("llama3").Parse(Llama3Template))

type chatTemplateData struct {
	Messages            []ports.Message
	AddGenerationPrompt bool
}

// RenderChat renders messages into a single prompt string, ending with an open assistant
// turn.
func RenderChat(messages []ports.Message) (string, error) {
	var b strings.Builder
	if err := llama3.Execute(&b, chatTemplateData{Messages: messages, AddGenerationPrompt: true}); err != nil {
		return "", err
	}
	return b.String(), nil
}
