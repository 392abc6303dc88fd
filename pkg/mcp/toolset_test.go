// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/weftworks/weft/pkg/errors"
)

type fakeCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcpgo.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func textResult(text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: text}},
	}
}

func TestToolAdapterCallMapArgs(t *testing.T) {
	caller := &fakeCaller{result: textResult("done")}
	adapter, err := NewToolAdapter(mcpgo.Tool{Name: "search"}, caller)
	if err != nil {
		t.Fatalf("NewToolAdapter: %v", err)
	}

	out, err := adapter.Call(context.Background(), map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "done" {
		t.Errorf("output = %v", out)
	}
	if caller.lastName != "search" || caller.lastArgs["query"] != "go" {
		t.Errorf("forwarded call = %s %v", caller.lastName, caller.lastArgs)
	}
}

func TestToolAdapterCallJSONStringArgs(t *testing.T) {
	caller := &fakeCaller{result: textResult("ok")}
	adapter, _ := NewToolAdapter(mcpgo.Tool{Name: "echo"}, caller)

	if _, err := adapter.Call(context.Background(), `{"message": "hi"}`); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if caller.lastArgs["message"] != "hi" {
		t.Errorf("args = %v, want decoded json object", caller.lastArgs)
	}
}

func TestToolAdapterPlainStringBecomesInput(t *testing.T) {
	caller := &fakeCaller{result: textResult("ok")}
	adapter, _ := NewToolAdapter(mcpgo.Tool{Name: "echo"}, caller)

	if _, err := adapter.Call(context.Background(), "just text"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if caller.lastArgs["input"] != "just text" {
		t.Errorf("args = %v", caller.lastArgs)
	}
}

func TestToolAdapterMissingRequiredArg(t *testing.T) {
	tool := mcpgo.Tool{Name: "fetch"}
	tool.InputSchema.Type = "object"
	tool.InputSchema.Required = []string{"url"}
	adapter, _ := NewToolAdapter(tool, &fakeCaller{result: textResult("ok")})

	_, err := adapter.Call(context.Background(), map[string]any{"other": 1})
	if !errors.IsCode(err, errors.CodeToolFailure) {
		t.Fatalf("error = %v, want TOOL_FAILURE", err)
	}
}

func TestToolAdapterServerError(t *testing.T) {
	result := textResult("boom")
	result.IsError = true
	adapter, _ := NewToolAdapter(mcpgo.Tool{Name: "explode"}, &fakeCaller{result: result})

	_, err := adapter.Call(context.Background(), nil)
	if !errors.IsCode(err, errors.CodeToolFailure) {
		t.Fatalf("error = %v, want TOOL_FAILURE", err)
	}
}

func TestToolAdapterTransportError(t *testing.T) {
	adapter, _ := NewToolAdapter(mcpgo.Tool{Name: "flaky"}, &fakeCaller{err: fmt.Errorf("broken pipe")})

	_, err := adapter.Call(context.Background(), nil)
	if !errors.IsCode(err, errors.CodeToolFailure) {
		t.Fatalf("error = %v, want TOOL_FAILURE", err)
	}
}

func TestToolAdapterStructuredContentWins(t *testing.T) {
	result := textResult("ignored")
	result.StructuredContent = map[string]any{"count": 3}
	adapter, _ := NewToolAdapter(mcpgo.Tool{Name: "stats"}, &fakeCaller{result: result})

	out, err := adapter.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	structured, ok := out.(map[string]any)
	if !ok || structured["count"] != 3 {
		t.Errorf("output = %v, want structured content", out)
	}
}

func TestNewToolAdapterValidation(t *testing.T) {
	if _, err := NewToolAdapter(mcpgo.Tool{}, &fakeCaller{}); err == nil {
		t.Error("expected error for unnamed tool")
	}
	if _, err := NewToolAdapter(mcpgo.Tool{Name: "x"}, nil); err == nil {
		t.Error("expected error for nil caller")
	}
}
