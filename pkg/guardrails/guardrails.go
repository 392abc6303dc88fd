// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens content that manifests flag as dangerous
// before it is rendered into a kernel prompt. The screen neutralizes
// prompt-injection attempts and masks common PII shapes; it rewrites
// rather than blocks, so a poisoned variable degrades to a harmless one
// instead of failing the run.
package guardrails

import (
	"context"
	"regexp"
	"strings"
)

// defaultInjectionPatterns matches the common jailbreak phrasings seen in
// tool outputs and retrieved documents.
var defaultInjectionPatterns = []string{
	`(?i)ignore (all )?(previous|prior|above) (instructions|prompts)`,
	`(?i)disregard (all )?(previous|prior|above)`,
	`(?i)you are now [a-z]`,
	`(?i)system prompt\s*:`,
	`(?i)\[/?(system|inst)\]`,
	`(?i)forget everything`,
	`(?i)new instructions\s*:`,
}

var piiPatterns = map[string]*regexp.Regexp{
	"email": regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone": regexp.MustCompile(`\+?\d[\d\s\-()]{8,}\d`),
	"card":  regexp.MustCompile(`\b(?:\d[ \-]*?){13,16}\b`),
}

const redactedMark = "[redacted]"

// Screen rewrites untrusted variable content. It implements the
// sanitization hook of the kernel invoker.
type Screen struct {
	injection []*regexp.Regexp
	maskPII   bool
}

// Option configures a Screen.
type Option func(*Screen)

// WithInjectionPatterns replaces the built-in injection pattern set.
func WithInjectionPatterns(patterns []string) Option {
	return func(s *Screen) {
		s.injection = compile(patterns)
	}
}

// WithPIIMasking toggles masking of emails, phone numbers, and card
// numbers. Enabled by default.
func WithPIIMasking(enabled bool) Option {
	return func(s *Screen) {
		s.maskPII = enabled
	}
}

// NewScreen creates a Screen with the default pattern set.
func NewScreen(opts ...Option) *Screen {
	s := &Screen{
		injection: compile(defaultInjectionPatterns),
		maskPII:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize neutralizes injection phrasings and masks PII. The returned
// string is always safe to embed in a prompt template.
func (s *Screen) Sanitize(_ context.Context, value string) (string, error) {
	lines := strings.Split(value, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if s.matchesInjection(line) {
			kept = append(kept, redactedMark)
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")

	if s.maskPII {
		for _, pattern := range piiPatterns {
			out = pattern.ReplaceAllString(out, redactedMark)
		}
	}
	return out, nil
}

// Detect reports whether the value contains an injection phrasing, for
// callers that want to reject rather than rewrite.
func (s *Screen) Detect(value string) bool {
	return s.matchesInjection(value)
}

func (s *Screen) matchesInjection(value string) bool {
	for _, pattern := range s.injection {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func compile(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}
