// SPDX-License-Identifier: Apache-2.0

// Package kernel renders kernel-function prompt templates and dispatches
// them to the bound reasoning capability.
package kernel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/weftworks/weft/pkg/core"
)

// Placeholders may carry an optional $ sigil, so {{history}} and
// {{$history}} both reference the "history" variable.
var placeholderPattern = regexp.MustCompile(`\{\{\s*\$?([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Placeholders returns the unique variable names referenced by a template,
// in order of first appearance.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes each placeholder with its textual value. Every
// placeholder must have a value; the caller guarantees that.
func Render(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return values[name]
	})
}

// Textual converts a bound variable value to its prompt representation.
// Strings pass through; histories render as transcripts; everything else
// is JSON-encoded.
func Textual(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case core.History:
		return v.Transcript(), nil
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// stripFences removes a single markdown code fence wrapping, which models
// frequently add around structured output.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
