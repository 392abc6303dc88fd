// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

func fixedProvider(p llm.Provider) ProviderResolver {
	return func(context.Context, *manifest.CapabilityDef) (llm.Provider, error) {
		return p, nil
	}
}

func testKernel() *manifest.KernelDef {
	return &manifest.KernelDef{
		Name:      "default",
		Reasoning: &manifest.CapabilityDef{Provider: "mock", Model: "test"},
	}
}

func testFunction() *manifest.FunctionDef {
	return &manifest.FunctionDef{
		Name:     "summarize",
		Template: "Summarize {{text}} in {{style}} style.",
		Input: []manifest.VariableSpec{
			{Name: "text", Required: true},
			{Name: "style", Default: "plain"},
		},
	}
}

func TestInvokeRendersTemplate(t *testing.T) {
	var captured llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Content: "a summary"}, nil
	}}
	inv := NewInvoker(fixedProvider(provider))

	got, err := inv.Invoke(context.Background(), testFunction(), testKernel(), Bindings{"text": "hello world"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if got != "a summary" {
		t.Errorf("got %v", got)
	}
	want := "Summarize hello world in plain style."
	if captured.Messages[0].Content != want {
		t.Errorf("rendered = %q, want %q", captured.Messages[0].Content, want)
	}
	if captured.Model != "test" {
		t.Errorf("model = %q", captured.Model)
	}
}

func TestInvokeMissingRequiredVariable(t *testing.T) {
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "x"}))
	_, err := inv.Invoke(context.Background(), testFunction(), testKernel(), Bindings{})
	if !errors.IsCode(err, errors.CodeMissingVariable) {
		t.Errorf("expected MISSING_VARIABLE, got %v", err)
	}
}

func TestInvokeRejectsUnknownBinding(t *testing.T) {
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "x"}))
	binds := Bindings{"text": "hi", "bogus": "nope"}
	_, err := inv.Invoke(context.Background(), testFunction(), testKernel(), binds)
	if !errors.IsCode(err, errors.CodeUnknownVariable) {
		t.Errorf("expected UNKNOWN_VARIABLE, got %v", err)
	}
}

func TestInvokeUnboundPlaceholder(t *testing.T) {
	fn := &manifest.FunctionDef{
		Name:     "broken",
		Template: "Uses {{undeclared}}.",
	}
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "x"}))
	_, err := inv.Invoke(context.Background(), fn, testKernel(), Bindings{})
	if !errors.IsCode(err, errors.CodeUnboundPlaceholder) {
		t.Errorf("expected UNBOUND_PLACEHOLDER, got %v", err)
	}
}

func TestInvokeBooleanOutput(t *testing.T) {
	fn := &manifest.FunctionDef{
		Name:     "is-done",
		Template: "Done? {{history}}",
		Input:    []manifest.VariableSpec{{Name: "history", Required: true}},
		Output:   &manifest.OutputSpec{Name: "done", Type: "boolean"},
	}
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "Yes."}))
	got, err := inv.Invoke(context.Background(), fn, testKernel(), Bindings{"history": "A: done"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if got != true {
		t.Errorf("expected true, got %v", got)
	}
}

func TestInvokeCorrectiveRetryRecovers(t *testing.T) {
	fn := &manifest.FunctionDef{
		Name:     "split",
		Template: "Split {{prompt}}.",
		Input:    []manifest.VariableSpec{{Name: "prompt", Required: true}},
		Output:   &manifest.OutputSpec{Name: "assignments", Type: "object"},
	}
	provider := llm.NewScriptedProvider(
		"this is not json",
		"```json\n{\"A\": \"part one\"}\n```",
	)
	inv := NewInvoker(fixedProvider(provider))

	got, err := inv.Invoke(context.Background(), fn, testKernel(), Bindings{"prompt": "work"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	obj, ok := got.(map[string]any)
	if !ok || obj["A"] != "part one" {
		t.Errorf("got %v", got)
	}
	if provider.CallCount != 2 {
		t.Errorf("expected 2 calls (original + corrective), got %d", provider.CallCount)
	}
	last := provider.Requests[1].Messages
	if len(last) != 3 || !strings.Contains(last[2].Content, "did not match") {
		t.Errorf("corrective follow-up should carry the prior exchange: %+v", last)
	}
}

func TestInvokeSchemaViolationAfterRetry(t *testing.T) {
	fn := &manifest.FunctionDef{
		Name:     "split",
		Template: "Split {{prompt}}.",
		Input:    []manifest.VariableSpec{{Name: "prompt", Required: true}},
		Output:   &manifest.OutputSpec{Name: "assignments", Type: "object"},
	}
	provider := llm.NewScriptedProvider("still not json", "nope")
	inv := NewInvoker(fixedProvider(provider))

	_, err := inv.Invoke(context.Background(), fn, testKernel(), Bindings{"prompt": "work"})
	if !errors.IsCode(err, errors.CodeSchemaViolation) {
		t.Errorf("expected SCHEMA_VIOLATION, got %v", err)
	}
	if provider.CallCount != 2 {
		t.Errorf("expected exactly one corrective retry, got %d calls", provider.CallCount)
	}
}

type upperSanitizer struct{ calls int }

func (s *upperSanitizer) Sanitize(_ context.Context, value string) (string, error) {
	s.calls++
	return strings.ToUpper(value), nil
}

func TestInvokeSanitizesFlaggedVariables(t *testing.T) {
	fn := &manifest.FunctionDef{
		Name:     "echo",
		Template: "{{safe}} {{risky}}",
		Input: []manifest.VariableSpec{
			{Name: "safe", Required: true},
			{Name: "risky", Required: true, AllowDangerousContent: true},
		},
	}
	var captured llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	sanitizer := &upperSanitizer{}
	inv := NewInvoker(fixedProvider(provider), WithSanitizer(sanitizer))

	_, err := inv.Invoke(context.Background(), fn, testKernel(), Bindings{"safe": "a", "risky": "b"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if captured.Messages[0].Content != "a B" {
		t.Errorf("rendered = %q", captured.Messages[0].Content)
	}
	if sanitizer.calls != 1 {
		t.Errorf("sanitizer should run only for flagged variables, ran %d times", sanitizer.calls)
	}
}

func TestInvokeKernelWithoutReasoningFails(t *testing.T) {
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "x"}))
	_, err := inv.Invoke(context.Background(), testFunction(), &manifest.KernelDef{Name: "embed-only"}, Bindings{"text": "hi"})
	if !errors.IsCode(err, errors.CodeMissingProperty) {
		t.Errorf("expected MISSING_PROPERTY, got %v", err)
	}
}

func TestInvokeConcurrentReuse(t *testing.T) {
	inv := NewInvoker(fixedProvider(&llm.MockProvider{Response: "ok"}))
	fn := testFunction()
	k := testKernel()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inv.Invoke(context.Background(), fn, k, Bindings{"text": "hi"}); err != nil {
				t.Errorf("concurrent invoke failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a}} then {{ b }} and {{a}} again")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("placeholders = %v", got)
	}
}

func TestPlaceholderSigilForms(t *testing.T) {
	// {{$name}} and {{name}} reference the same variable.
	got := Placeholders("{{$history}} plus {{ $inputs }} plus {{history}}")
	if len(got) != 2 || got[0] != "history" || got[1] != "inputs" {
		t.Fatalf("placeholders = %v", got)
	}
	rendered := Render("turns: {{$history}}; data: {{ $inputs }}",
		map[string]string{"history": "h", "inputs": "i"})
	if rendered != "turns: h; data: i" {
		t.Errorf("rendered = %q", rendered)
	}
}
