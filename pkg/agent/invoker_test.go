// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

func hostedResolved() *manifest.Resolved {
	return &manifest.Resolved{
		Kernels: map[string]*manifest.KernelDef{
			"default": {
				Name:      "default",
				Reasoning: &manifest.CapabilityDef{Provider: "mock", Model: "test-model", Temperature: 0.2},
			},
		},
		Agents: map[string]*manifest.AgentDef{
			"Writer": {
				Name:         "Writer",
				Instructions: "You refine prose.",
				Kernel:       "default",
				Skills: []manifest.SkillDef{
					{Name: "editing", Description: "tighten sentences"},
				},
			},
			"Critic": {
				Name:         "Critic",
				Instructions: "You critique prose.",
				Kernel:       "default",
			},
		},
	}
}

func fixedProvider(p llm.Provider) func(ctx context.Context, c *manifest.CapabilityDef) (llm.Provider, error) {
	return func(context.Context, *manifest.CapabilityDef) (llm.Provider, error) {
		return p, nil
	}
}

func TestInvokeHostedBuildsMessages(t *testing.T) {
	var captured llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Content: "  refined text  "}, nil
	}}
	inv := NewInvoker(hostedResolved(), fixedProvider(provider))

	history := core.History{}.
		Append("user", "please refine: teh cat").
		Append("Writer", "the cat").
		Append("Critic", "too terse")

	out, err := inv.Invoke(context.Background(), "Writer", history)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "refined text" {
		t.Errorf("output = %q, want trimmed response", out)
	}
	if captured.Model != "test-model" {
		t.Errorf("model = %q, want test-model", captured.Model)
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(captured.Messages))
	}
	if captured.Messages[0].Role != llm.RoleSystem || !strings.Contains(captured.Messages[0].Content, "You refine prose.") {
		t.Errorf("system message = %+v", captured.Messages[0])
	}
	if !strings.Contains(captured.Messages[0].Content, "editing: tighten sentences") {
		t.Errorf("system message missing skills digest: %q", captured.Messages[0].Content)
	}
	// The agent's own prior turn arrives as assistant, everyone else as user.
	if captured.Messages[2].Role != llm.RoleAssistant || captured.Messages[2].Content != "the cat" {
		t.Errorf("own turn = %+v, want assistant role without prefix", captured.Messages[2])
	}
	if captured.Messages[3].Role != llm.RoleUser || captured.Messages[3].Content != "Critic: too terse" {
		t.Errorf("foreign turn = %+v, want user role with speaker prefix", captured.Messages[3])
	}
}

func TestInvokeUnknownAgent(t *testing.T) {
	inv := NewInvoker(hostedResolved(), fixedProvider(&llm.MockProvider{Response: "x"}))
	_, err := inv.Invoke(context.Background(), "Ghost", nil)
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Fatalf("error = %v, want UNRESOLVED_REFERENCE", err)
	}
}

func TestInvokeHostedMemoryRecall(t *testing.T) {
	resolved := hostedResolved()
	resolved.Agents["Writer"].Memory = "style"

	var queried string
	memory := memoryFunc(func(_ context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
		queried = criteria
		if limit != recallLimit {
			t.Errorf("limit = %d, want %d", limit, recallLimit)
		}
		return []core.MemoryEntry{{Content: "prefer short sentences"}}, nil
	})

	var captured llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Content: "ok"}, nil
	}}

	inv := NewInvoker(resolved, fixedProvider(provider),
		WithMemoryResolver(func(context.Context, string) (core.Memory, error) { return memory, nil }))

	history := core.History{}.Append("user", "refine this paragraph")
	if _, err := inv.Invoke(context.Background(), "Writer", history); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if queried != "refine this paragraph" {
		t.Errorf("recall criteria = %q, want the latest turn content", queried)
	}
	if !strings.Contains(captured.Messages[0].Content, "prefer short sentences") {
		t.Errorf("system message missing recalled context: %q", captured.Messages[0].Content)
	}
}

func TestInvokeHostedMemoryFailure(t *testing.T) {
	resolved := hostedResolved()
	resolved.Agents["Writer"].Memory = "style"

	memory := memoryFunc(func(context.Context, string, int) ([]core.MemoryEntry, error) {
		return nil, context.DeadlineExceeded
	})
	inv := NewInvoker(resolved, fixedProvider(&llm.MockProvider{Response: "ok"}),
		WithMemoryResolver(func(context.Context, string) (core.Memory, error) { return memory, nil }))

	_, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "hi"))
	if !errors.IsCode(err, errors.CodeMemoryError) {
		t.Fatalf("error = %v, want MEMORY_ERROR", err)
	}
}

func TestInvokeHostedToolLoop(t *testing.T) {
	resolved := hostedResolved()
	resolved.Kernels["default"].Toolsets = []string{"search-tools"}

	var calledWith any
	search := toolFunc{name: "search", call: func(_ context.Context, input any) (any, error) {
		calledWith = input
		return "cats purr at 25 Hz", nil
	}}

	responses := []string{
		`{"tool": "search", "arguments": {"q": "cat facts"}}`,
		"Cats purr at about 25 Hz.",
	}
	var requests []llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		requests = append(requests, req)
		return &llm.ChatResponse{Content: responses[len(requests)-1]}, nil
	}}

	inv := NewInvoker(resolved, fixedProvider(provider),
		WithToolResolver(func(_ context.Context, name string) ([]core.Tool, error) {
			if name != "search-tools" {
				t.Errorf("resolved toolset = %q", name)
			}
			return []core.Tool{search}, nil
		}))

	out, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "tell me about cats"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "Cats purr at about 25 Hz." {
		t.Errorf("output = %q", out)
	}
	args, ok := calledWith.(map[string]any)
	if !ok || args["q"] != "cat facts" {
		t.Errorf("tool arguments = %#v", calledWith)
	}
	if len(requests) != 2 {
		t.Fatalf("got %d chat rounds, want 2", len(requests))
	}
	if !strings.Contains(requests[0].Messages[0].Content, "- search") {
		t.Errorf("system message missing tool roster: %q", requests[0].Messages[0].Content)
	}
	last := requests[1].Messages[len(requests[1].Messages)-1]
	if last.Role != llm.RoleUser || !strings.Contains(last.Content, "cats purr at 25 Hz") {
		t.Errorf("observation message = %+v", last)
	}
}

func TestInvokeHostedUnknownToolRequest(t *testing.T) {
	resolved := hostedResolved()
	resolved.Kernels["default"].Toolsets = []string{"search-tools"}

	provider := &llm.MockProvider{Response: `{"tool": "delete_everything", "arguments": {}}`}
	inv := NewInvoker(resolved, fixedProvider(provider),
		WithToolResolver(func(context.Context, string) ([]core.Tool, error) {
			return []core.Tool{toolFunc{name: "search"}}, nil
		}))

	_, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "hi"))
	if !errors.IsCode(err, errors.CodeToolFailure) {
		t.Fatalf("error = %v, want TOOL_FAILURE", err)
	}
}

func TestInvokeHostedWithoutToolResolverStaysPlainChat(t *testing.T) {
	resolved := hostedResolved()
	resolved.Kernels["default"].Toolsets = []string{"search-tools"}

	var captured llm.ChatRequest
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Content: "plain answer"}, nil
	}}
	inv := NewInvoker(resolved, fixedProvider(provider))

	out, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "hi"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "plain answer" {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(captured.Messages[0].Content, "Available tools") {
		t.Errorf("system message should not mention tools: %q", captured.Messages[0].Content)
	}
}

func TestParseToolCall(t *testing.T) {
	cases := []struct {
		name    string
		content string
		tool    string
		ok      bool
	}{
		{"bare json", `{"tool": "search", "arguments": {"q": "x"}}`, "search", true},
		{"fenced json", "```json\n{\"tool\": \"search\"}\n```", "search", true},
		{"prose answer", "The answer is 42.", "", false},
		{"json without tool", `{"verdict": "pass"}`, "", false},
		{"malformed json", `{"tool": `, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tool, _, ok := parseToolCall(tc.content)
			if ok != tc.ok || tool != tc.tool {
				t.Errorf("parseToolCall(%q) = (%q, %v), want (%q, %v)", tc.content, tool, ok, tc.tool, tc.ok)
			}
		})
	}
}

func TestInvokeHostedProviderFailure(t *testing.T) {
	provider := &llm.MockProvider{ChatFunc: func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	inv := NewInvoker(hostedResolved(), fixedProvider(provider))

	_, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "hi"))
	if !errors.IsCode(err, errors.CodeProviderUnavailable) {
		t.Fatalf("error = %v, want PROVIDER_UNAVAILABLE", err)
	}
}

func TestInvokeHostedProviderErrorPassthrough(t *testing.T) {
	provider := &llm.MockProvider{ChatFunc: func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.Newf(errors.CodeProviderTimeout, "upstream deadline")
	}}
	inv := NewInvoker(hostedResolved(), fixedProvider(provider))

	_, err := inv.Invoke(context.Background(), "Writer", core.History{}.Append("user", "hi"))
	if !errors.IsCode(err, errors.CodeProviderTimeout) {
		t.Fatalf("error = %v, want PROVIDER_TIMEOUT", err)
	}
}

func TestInvokeRemoteUsesChannel(t *testing.T) {
	resolved := hostedResolved()
	resolved.Agents["Remote"] = &manifest.AgentDef{
		Name:    "Remote",
		Channel: &manifest.ChannelDef{Endpoint: "http://agents.example/reviewer"},
	}

	var gotHistory core.History
	inv := NewInvoker(resolved, fixedProvider(&llm.MockProvider{Response: "unused"}),
		WithDialFunc(func(_ context.Context, def *manifest.ChannelDef) (RemoteChannel, error) {
			if def.Endpoint != "http://agents.example/reviewer" {
				t.Errorf("endpoint = %q", def.Endpoint)
			}
			return channelFunc(func(_ context.Context, history core.History) (string, error) {
				gotHistory = history
				return "remote verdict\n", nil
			}), nil
		}))

	history := core.History{}.Append("user", "review this")
	out, err := inv.Invoke(context.Background(), "Remote", history)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "remote verdict" {
		t.Errorf("output = %q", out)
	}
	if len(gotHistory) != 1 || gotHistory[0].Content != "review this" {
		t.Errorf("forwarded history = %+v", gotHistory)
	}
}

func TestInvokeRemoteChannelError(t *testing.T) {
	resolved := hostedResolved()
	resolved.Agents["Remote"] = &manifest.AgentDef{
		Name:    "Remote",
		Channel: &manifest.ChannelDef{Endpoint: "http://agents.example/reviewer"},
	}
	inv := NewInvoker(resolved, fixedProvider(&llm.MockProvider{Response: "unused"}),
		WithDialFunc(func(context.Context, *manifest.ChannelDef) (RemoteChannel, error) {
			return nil, errors.Newf(errors.CodeRemoteUnavailable, "endpoint down")
		}))

	_, err := inv.Invoke(context.Background(), "Remote", nil)
	if !errors.IsCode(err, errors.CodeRemoteUnavailable) {
		t.Fatalf("error = %v, want REMOTE_AGENT_UNAVAILABLE", err)
	}
}

type memoryFunc func(ctx context.Context, criteria string, limit int) ([]core.MemoryEntry, error)

func (f memoryFunc) Query(ctx context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	return f(ctx, criteria, limit)
}

type channelFunc func(ctx context.Context, history core.History) (string, error)

func (f channelFunc) Send(ctx context.Context, history core.History) (string, error) {
	return f(ctx, history)
}

type toolFunc struct {
	name string
	call func(ctx context.Context, input any) (any, error)
}

func (t toolFunc) Name() string { return t.name }

func (t toolFunc) Call(ctx context.Context, input any) (any, error) {
	if t.call == nil {
		return nil, nil
	}
	return t.call(ctx, input)
}
