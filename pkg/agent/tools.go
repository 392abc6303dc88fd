// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

// maxToolRounds bounds how many tool calls one hosted turn may chain.
const maxToolRounds = 4

// ToolResolver maps a toolset definition name to its live tools.
type ToolResolver func(ctx context.Context, name string) ([]core.Tool, error)

// WithToolResolver installs the toolset resolver. Without one, kernel
// toolsets are ignored and hosted turns are plain chat.
func WithToolResolver(r ToolResolver) Option {
	return func(inv *Invoker) { inv.tools = r }
}

// kernelTools resolves every toolset the kernel declares.
func (inv *Invoker) kernelTools(ctx context.Context, k *manifest.KernelDef) ([]core.Tool, error) {
	var tools []core.Tool
	for _, name := range k.Toolsets {
		resolved, err := inv.tools(ctx, name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, resolved...)
	}
	return tools, nil
}

// chatWithTools runs the hosted turn as a call-observe loop: the model
// either answers directly or requests one tool per round, and each tool
// result is fed back as an observation.
func (inv *Invoker) chatWithTools(ctx context.Context, def *manifest.AgentDef, k *manifest.KernelDef,
	provider llm.Provider, messages []llm.Message, tools []core.Tool) (string, error) {
	for round := 0; ; round++ {
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:       k.Reasoning.Model,
			Messages:    messages,
			Temperature: k.Reasoning.Temperature,
		})
		if err != nil {
			return "", mapProviderError(ctx, def.Name, err)
		}
		content := strings.TrimSpace(resp.Content)

		name, args, ok := parseToolCall(content)
		if !ok {
			return content, nil
		}
		if round >= maxToolRounds {
			return "", errors.Newf(errors.CodeToolFailure,
				"agents/%s: tool call budget exhausted after %d rounds", def.Name, maxToolRounds)
		}
		tool := findTool(tools, name)
		if tool == nil {
			return "", errors.Newf(errors.CodeToolFailure,
				"agents/%s: requested unknown tool %q", def.Name, name)
		}
		inv.logger.DebugContext(ctx, "hosted agent calling tool",
			"agent", def.Name, "tool", name, "round", round)
		output, err := tool.Call(ctx, args)
		if err != nil {
			return "", err
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: content},
			llm.Message{Role: llm.RoleUser, Content: "Tool " + name + " returned: " + observation(output)})
	}
}

// toolCall is the directive a model emits to request a tool.
type toolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// parseToolCall recognizes a response that is exactly one tool directive.
// Anything else is treated as the agent's answer.
func parseToolCall(content string) (string, map[string]any, bool) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
	}
	if !strings.HasPrefix(trimmed, "{") {
		return "", nil, false
	}
	var call toolCall
	if err := json.Unmarshal([]byte(trimmed), &call); err != nil || call.Tool == "" {
		return "", nil, false
	}
	return call.Tool, call.Arguments, true
}

func findTool(tools []core.Tool, name string) core.Tool {
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}

// observation renders a tool output for the follow-up message.
func observation(output any) string {
	switch v := output.(type) {
	case nil:
		return "(no output)"
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// toolDigest appends the tool roster and calling convention to a system
// prompt.
func toolDigest(tools []core.Tool) string {
	var sb strings.Builder
	sb.WriteString("\n\nAvailable tools:")
	for _, tool := range tools {
		sb.WriteString("\n- " + tool.Name())
		if described, ok := tool.(interface{ Description() string }); ok {
			if desc := described.Description(); desc != "" {
				sb.WriteString(": " + desc)
			}
		}
	}
	sb.WriteString("\n\nTo call a tool, reply with only a JSON object of the form " +
		`{"tool": "<name>", "arguments": {...}}. Otherwise reply with your answer.`)
	return sb.String()
}
