package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// cacheKeyVersion is bumped whenever the key layout or the cached value changes shape.
const cacheKeyVersion = "v1"

// CacheKey fingerprints one consensus request. It is the hex SHA-256 of
// "v1:<assertion>:<objectsText>:<model>:<quorumSize>".
func CacheKey(assertion, objectsText, model string, quorumSize int) string {
	var b strings.Builder
	b.WriteString(cacheKeyVersion)
	b.WriteByte(':')
	b.WriteString(assertion)
	b.WriteByte(':')
	b.WriteString(objectsText)
	b.WriteByte(':')
	b.WriteString(model)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(quorumSize))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CanonicalObjects returns a copy of objects sorted by name together with its JSON
// serialization, so that the fingerprint does not depend on caller ordering.
func CanonicalObjects(objects []ports.CodeObject) ([]ports.CodeObject, string, error) {
	sorted := make([]ports.CodeObject, len(objects))
	copy(sorted, objects)
	slices.SortStableFunc(sorted, func(a, b ports.CodeObject) int {
		return strings.Compare(a.Name, b.Name)
	})

	data, err := json.Marshal(sorted)
	if err != nil {
		return nil, "", fmt.Errorf("serialize code objects: %w", err)
	}
	return sorted, string(data), nil
}
