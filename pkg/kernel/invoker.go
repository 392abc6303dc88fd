// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

// Bindings maps input variable names to runtime values for one function
// invocation. Created per call and discarded when the call returns.
type Bindings map[string]any

// Sanitizer is the content-sanitization hook applied to variables flagged
// allowDangerousContent before templating.
type Sanitizer interface {
	Sanitize(ctx context.Context, value string) (string, error)
}

// ProviderResolver maps a capability binding to a concrete reasoning
// provider.
type ProviderResolver func(ctx context.Context, capability *manifest.CapabilityDef) (llm.Provider, error)

// Invoker renders kernel-function templates and dispatches them to the
// bound kernel's reasoning capability. It holds no per-call state and is
// safe for concurrent reuse.
type Invoker struct {
	resolve   ProviderResolver
	sanitizer Sanitizer
	logger    *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSanitizer installs the content-sanitization hook.
func WithSanitizer(s Sanitizer) Option {
	return func(inv *Invoker) { inv.sanitizer = s }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) { inv.logger = logger }
}

// NewInvoker creates an Invoker that resolves providers through the given
// resolver.
func NewInvoker(resolve ProviderResolver, opts ...Option) *Invoker {
	inv := &Invoker{
		resolve: resolve,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs one kernel-function call: validate bindings, render the
// template, dispatch to the reasoning provider, and validate the response
// against the declared output schema (with a single corrective retry).
func (inv *Invoker) Invoke(ctx context.Context, fn *manifest.FunctionDef, k *manifest.KernelDef, binds Bindings) (any, error) {
	values, err := inv.bind(ctx, fn, binds)
	if err != nil {
		return nil, err
	}

	rendered := Render(fn.Template, values)

	if k == nil || k.Reasoning == nil {
		return nil, errors.Newf(errors.CodeMissingProperty,
			"functions/%s: bound kernel has no reasoning capability", fn.Name)
	}
	provider, err := inv.resolve(ctx, k.Reasoning)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: rendered}}
	raw, err := inv.dispatch(ctx, provider, k.Reasoning, messages)
	if err != nil {
		return nil, err
	}

	if fn.Output == nil {
		return strings.TrimSpace(raw), nil
	}

	value, parseErr := parseOutput(fn.Output, raw)
	if parseErr == nil {
		return value, nil
	}

	// One corrective follow-up, then give up.
	inv.logger.DebugContext(ctx, "output schema mismatch, issuing corrective retry",
		"function", fn.Name, "output_type", fn.Output.Type)
	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: raw},
		llm.Message{Role: llm.RoleUser, Content: correctivePrompt(fn.Output)},
	)
	retryRaw, err := inv.dispatch(ctx, provider, k.Reasoning, messages)
	if err != nil {
		return nil, err
	}
	value, parseErr = parseOutput(fn.Output, retryRaw)
	if parseErr != nil {
		return nil, errors.New(errors.CodeSchemaViolation,
			"response did not match the declared output schema after retry", parseErr).
			WithContext("function", fn.Name).
			WithContext("output_type", fn.Output.Type)
	}
	return value, nil
}

// bind validates bindings against the input specs and produces the textual
// values for every template placeholder.
func (inv *Invoker) bind(ctx context.Context, fn *manifest.FunctionDef, binds Bindings) (map[string]string, error) {
	for name := range binds {
		if _, ok := fn.Spec(name); !ok {
			return nil, errors.Newf(errors.CodeUnknownVariable,
				"functions/%s: no declared variable %q", fn.Name, name)
		}
	}

	resolved := make(map[string]any, len(fn.Input))
	for _, spec := range fn.Input {
		value, bound := binds[spec.Name]
		if !bound {
			if spec.HasDefault() {
				value = spec.Default
			} else if spec.Required {
				return nil, errors.Newf(errors.CodeMissingVariable,
					"functions/%s: required variable %q is not bound", fn.Name, spec.Name)
			} else {
				continue
			}
		}
		resolved[spec.Name] = value
	}

	values := make(map[string]string, len(resolved))
	for _, name := range Placeholders(fn.Template) {
		spec, declared := fn.Spec(name)
		if !declared {
			return nil, errors.Newf(errors.CodeUnboundPlaceholder,
				"functions/%s: template references undeclared variable %q", fn.Name, name)
		}
		value, ok := resolved[name]
		if !ok {
			return nil, errors.Newf(errors.CodeUnboundPlaceholder,
				"functions/%s: placeholder %q has no value", fn.Name, name)
		}
		text, err := Textual(value)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "cannot render variable", err).
				WithContext("variable", name)
		}
		if spec.AllowDangerousContent && inv.sanitizer != nil {
			text, err = inv.sanitizer.Sanitize(ctx, text)
			if err != nil {
				return nil, err
			}
		}
		values[name] = text
	}
	return values, nil
}

func (inv *Invoker) dispatch(ctx context.Context, provider llm.Provider, capability *manifest.CapabilityDef, messages []llm.Message) (string, error) {
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Model:       capability.Model,
		Messages:    messages,
		Temperature: capability.Temperature,
	})
	if err != nil {
		return "", mapProviderError(ctx, err)
	}
	return resp.Content, nil
}

// mapProviderError normalizes provider failures onto the error taxonomy.
func mapProviderError(ctx context.Context, err error) error {
	if we, ok := err.(*errors.WeftError); ok {
		return we
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.New(errors.CodeProviderTimeout, "provider call timed out", err)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(ctx.Err(), context.Canceled) {
		return errors.New(errors.CodeCancelled, "provider call cancelled", err)
	}
	return errors.New(errors.CodeProviderUnavailable, "provider call failed", err)
}

// parseOutput validates and coerces the raw response against the declared
// output schema.
func parseOutput(spec *manifest.OutputSpec, raw string) (any, error) {
	cleaned := stripFences(raw)
	switch spec.Type {
	case "", "string":
		if cleaned == "" {
			return nil, errors.Newf(errors.CodeSchemaViolation, "empty response for string output")
		}
		return cleaned, nil
	case "boolean":
		switch strings.ToLower(strings.Trim(cleaned, `."'`)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
		if parsed, err := strconv.ParseBool(cleaned); err == nil {
			return parsed, nil
		}
		return nil, errors.Newf(errors.CodeSchemaViolation, "%q is not a boolean", cleaned)
	case "number":
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, errors.Newf(errors.CodeSchemaViolation, "%q is not a number", cleaned)
		}
		return parsed, nil
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
			return nil, errors.New(errors.CodeSchemaViolation, "response is not a json object", err)
		}
		return obj, nil
	default:
		return nil, errors.Newf(errors.CodeMissingProperty, "unknown output type %q", spec.Type)
	}
}

func correctivePrompt(spec *manifest.OutputSpec) string {
	outputType := spec.Type
	if outputType == "" {
		outputType = "string"
	}
	return "Your previous output did not match the expected " + outputType +
		" schema. Respond only with valid " + outputType + " output, nothing else."
}
