package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/xeipuuv/gojsonschema"
)

// EndOfTurnToken is the Llama-3 end-of-turn marker some servers leave in the completion.
const EndOfTurnToken = "<|eot_id|>"

// evaluationSchema is the contract for the model's answer.
const evaluationSchema = `{
  "type": "object",
  "required": ["result"],
  "properties": {
    "thoughts":    {"type": "string"},
    "result":      {"type": "boolean"},
    "explanation": {"type": ["string", "null"]}
  }
}`

var evaluationSchemaLoader = gojsonschema.NewStringLoader(evaluationSchema)

type evaluationPayload struct {
	Thoughts    string  `json:"thoughts"`
	Result      bool    `json:"result"`
	Explanation *string `json:"explanation"`
}

// ParseEvaluation validates raw model output against the evaluation schema. Any
// deviation is reported as *ResponseParseError carrying the raw text.
func ParseEvaluation(raw string) (ports.Evaluation, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimSpace(strings.TrimSuffix(text, EndOfTurnToken))

	if !json.Valid([]byte(text)) {
		return ports.Evaluation{}, &ResponseParseError{Raw: raw, Err: errors.New("output is not valid JSON")}
	}

	result, err := gojsonschema.Validate(evaluationSchemaLoader, gojsonschema.NewStringLoader(text))
	if err != nil {
		return ports.Evaluation{}, &ResponseParseError{Raw: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return ports.Evaluation{}, &ResponseParseError{Raw: raw, Err: fmt.Errorf("schema validation errors: %s", strings.Join(problems, "; "))}
	}

	var payload evaluationPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return ports.Evaluation{}, &ResponseParseError{Raw: raw, Err: err}
	}

	eval := ports.Evaluation{Result: payload.Result}
	if payload.Explanation != nil {
		eval.Explanation = *payload.Explanation
	}
	return eval, nil
}
