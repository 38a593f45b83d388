package harness

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// ErrInvalidObjects is matched by every *ObjectError.
var ErrInvalidObjects = errors.New("invalid code objects")

// ObjectError reports a code object set that cannot be rendered unambiguously.
type ObjectError struct {
	Name   string
	Reason string
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("code object %q: %s", e.Name, e.Reason)
}

func (e *ObjectError) Is(target error) bool { return target == ErrInvalidObjects }

// placeholderPattern matches {name} references in an assertion.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Guardrails checks consensus requests before any inference is spent on them.
type Guardrails struct {
	maxObjectBytes int
}

// NewGuardrails creates guardrails. maxObjectBytes <= 0 disables the size check.
func NewGuardrails(maxObjectBytes int) *Guardrails {
	return &Guardrails{maxObjectBytes: maxObjectBytes}
}

// ValidateObjects rejects empty or duplicate names and oversized code.
func (g *Guardrails) ValidateObjects(objects []ports.CodeObject) error {
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		switch {
		case obj.Name == "":
			return &ObjectError{Name: obj.Name, Reason: "name cannot be empty"}
		case seen[obj.Name]:
			return &ObjectError{Name: obj.Name, Reason: "duplicate name"}
		case g.maxObjectBytes > 0 && len(obj.Code) > g.maxObjectBytes:
			return &ObjectError{Name: obj.Name, Reason: fmt.Sprintf("code size %d exceeds maximum %d", len(obj.Code), g.maxObjectBytes)}
		}
		seen[obj.Name] = true
	}
	return nil
}

// Placeholders returns the distinct {name} references in assertion, in order of first
// appearance.
func Placeholders(assertion string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(assertion, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// MissingObjects lists placeholders in assertion that no code object provides. An
// assertion may legitimately embed its own code, so this is advisory.
func MissingObjects(assertion string, objects []ports.CodeObject) []string {
	var missing []string
	for _, name := range Placeholders(assertion) {
		if !slices.ContainsFunc(objects, func(o ports.CodeObject) bool { return o.Name == name }) {
			missing = append(missing, name)
		}
	}
	return missing
}
