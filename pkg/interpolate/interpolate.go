// Package interpolate resolves {path.to.value} placeholders against a
// session's variable bag.
package interpolate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])*)\}`)

// Interpolate replaces every resolvable placeholder in text. Unresolved
// placeholders are kept verbatim.
func Interpolate(text string, vars map[string]any) string {
	if !strings.Contains(text, "{") {
		return text
	}

	doc, err := json.Marshal(vars)
	if err != nil {
		return text
	}

	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		path := match[1 : len(match)-1]

		result := gjson.GetBytes(doc, ToGJSONPath(path))
		if !result.Exists() || result.Type == gjson.Null {
			return match
		}

		return result.String()
	})
}

// Lookup resolves a single dotted path. A path wrapped in braces is accepted.
func Lookup(vars map[string]any, path string) (any, bool) {
	path = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(path), "{"), "}")
	if path == "" {
		return nil, false
	}

	if value, ok := vars[path]; ok {
		return value, true
	}

	doc, err := json.Marshal(vars)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(doc, ToGJSONPath(path))
	if !result.Exists() {
		return nil, false
	}

	return result.Value(), true
}

// ToGJSONPath converts "a.b[0].c" into gjson's "a.b.0.c".
func ToGJSONPath(path string) string {
	path = strings.TrimPrefix(path, "$.")
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
