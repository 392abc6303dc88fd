// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)
}

// ToolAdapter wraps one MCP tool to satisfy core.Tool.
type ToolAdapter struct {
	tool   mcpgo.Tool
	caller ToolCaller
}

// NewToolAdapter builds a core.Tool backed by an MCP tool and caller.
func NewToolAdapter(tool mcpgo.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, errors.Newf(errors.CodeToolFailure, "mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.Newf(errors.CodeToolFailure, "tool caller is required")
	}
	return &ToolAdapter{tool: tool, caller: caller}, nil
}

// Name returns the MCP tool name.
func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

// Description returns the MCP tool description.
func (t *ToolAdapter) Description() string {
	return t.tool.Description
}

// Call invokes the MCP tool with normalized arguments.
func (t *ToolAdapter) Call(ctx context.Context, input any) (any, error) {
	args, err := normalizeToolArgs(input)
	if err != nil {
		return nil, err
	}
	if err := validateRequiredArgs(t.tool, args); err != nil {
		return nil, err
	}

	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		if we, ok := err.(*errors.WeftError); ok {
			return nil, we
		}
		return nil, errors.New(errors.CodeToolFailure, "mcp tool call failed", err).
			WithContext("tool", t.tool.Name)
	}
	return toolResultToOutput(t.tool.Name, result)
}

// Connect opens the transport a toolset definition names and adapts every
// advertised tool. The caller owns the returned client's lifetime.
func Connect(ctx context.Context, def *manifest.ToolsetDef, opts ...ClientOption) (*Client, []core.Tool, error) {
	var (
		c   *Client
		err error
	)
	switch {
	case def.Command != "":
		c, err = NewClientWithStdio(ctx, def.Command, def.Args, opts...)
	case def.URL != "":
		c, err = NewClientWithStreamableHTTP(ctx, def.URL, opts...)
	default:
		return nil, nil, errors.Newf(errors.CodeMissingProperty,
			"toolsets/%s: mcp toolset requires a command or url", def.Name)
	}
	if err != nil {
		return nil, nil, err
	}

	listed, err := c.ListTools(ctx)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	tools := make([]core.Tool, 0, len(listed))
	for _, tool := range listed {
		adapter, err := NewToolAdapter(tool, c)
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		tools = append(tools, adapter)
	}
	return c, tools, nil
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs([]byte(value))
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Newf(errors.CodeToolFailure, "unsupported tool argument type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.New(errors.CodeToolFailure, "tool arguments are not a json object", err)
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcpgo.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return errors.Newf(errors.CodeToolFailure, "missing required tool argument %q", key).
				WithContext("tool", tool.Name)
		}
	}
	return nil
}

func toolResultToOutput(name string, result *mcpgo.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.Newf(errors.CodeToolFailure, "mcp tool result is nil").
			WithContext("tool", name)
	}
	if result.IsError {
		return nil, errors.Newf(errors.CodeToolFailure, "mcp tool returned error: %s",
			extractTextContent(result.Content)).
			WithContext("tool", name)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []mcpgo.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, content.Text)
		case *mcpgo.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.Tool = (*ToolAdapter)(nil)
