package harness

import (
	"strings"
	"text/template"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// SystemPrompt instructs the evaluation model on its task and answer format.
const SystemPrompt = `You are a code analysis assistant. Your task is to analyze Python code against a natural language assertion and determine if the code fulfills the assertion.

You will receive:

1.  **Assertion**: A natural language assertion describing a desired property of the code. The assertion references code components using ` + "`{component_name}`" + ` notation.
2.  **Code Objects**: A set of named code objects. Each object has a name matching a ` + "`{component_name}`" + ` in the assertion and a code snippet.

Analyze the code step by step, check that every referenced component exists and behaves as the assertion requires, and reason from the code alone.

Your final answer **must be a JSON object** with the following fields:

*   ` + "`thoughts`" + `: A string containing your step-by-step analysis.
*   ` + "`result`" + `: A boolean, ` + "`true`" + ` only if the code meets every aspect of the assertion.
*   ` + "`explanation`" + `: If ` + "`result`" + ` is ` + "`false`" + `, a concise string naming where and how the code fails the assertion. Otherwise ` + "`null`" + `.

The output must be valid JSON and must not contain additional fields.`

// userTemplate lays out the assertion and code objects the way the model was tuned on.
var userTemplate = template.Must(template.New("user").Parse(`[Assertion]
"{{.Assertion}}"

[Code]
{{- range .Objects}}
{{"{"}}{{.Name}}{{"}"}}:
` + "```python" + `
{{.Code}}
` + "```" + `
{{end}}
`))

// DefaultPromptFactory builds the two-message prompt for an assertion.
type DefaultPromptFactory struct{}

func NewPromptFactory() *DefaultPromptFactory { return &DefaultPromptFactory{} }

// CreatePrompt renders objects in the order given.
func (f *DefaultPromptFactory) CreatePrompt(assertion string, objects []ports.CodeObject) []ports.Message {
	// Normalize newlines and trim whitespace so equivalent inputs yield identical prompts.
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	normalized := make([]ports.CodeObject, len(objects))
	for i, obj := range objects {
		normalized[i] = ports.CodeObject{Name: obj.Name, Code: norm(obj.Code)}
	}

	var b strings.Builder
	// The template only ranges over plain strings; execution cannot fail.
	_ = userTemplate.Execute(&b, struct {
		Assertion string
		Objects   []ports.CodeObject
	}{Assertion: norm(assertion), Objects: normalized})

	return []ports.Message{
		{Role: ports.RoleSystem, Content: SystemPrompt},
		{Role: ports.RoleUser, Content: b.String()},
	}
}

var _ ports.PromptFactory = (*DefaultPromptFactory)(nil)
