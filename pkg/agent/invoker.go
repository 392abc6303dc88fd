// SPDX-License-Identifier: Apache-2.0

// Package agent turns a resolved agent definition plus a conversation
// history into a single response turn. Hosted agents run on a kernel's
// reasoning capability; remote agents are reached over their channel.
package agent

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/weftworks/weft/pkg/a2a"
	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/kernel"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

// recallLimit bounds how many memory entries are folded into the system
// prompt of a hosted agent.
const recallLimit = 5

// RemoteChannel is the transport contract a remote agent is reached over.
type RemoteChannel interface {
	Send(ctx context.Context, history core.History) (string, error)
}

// DialFunc opens a channel to a remote agent. Injectable for tests.
type DialFunc func(ctx context.Context, def *manifest.ChannelDef) (RemoteChannel, error)

// MemoryResolver maps a memory definition name to a live backend.
type MemoryResolver func(ctx context.Context, name string) (core.Memory, error)

// Invoker executes one turn for hosted and remote agents alike.
type Invoker struct {
	resolved  *manifest.Resolved
	providers kernel.ProviderResolver
	memories  MemoryResolver
	tools     ToolResolver
	dial      DialFunc
	acquirer  *auth.Acquirer
	logger    *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithMemoryResolver installs the memory backend resolver.
func WithMemoryResolver(r MemoryResolver) Option {
	return func(inv *Invoker) { inv.memories = r }
}

// WithDialFunc replaces the channel dialer used for remote agents.
func WithDialFunc(d DialFunc) Option {
	return func(inv *Invoker) { inv.dial = d }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) { inv.logger = logger }
}

// WithHTTPClient sets the client used for channel dialing and credential
// acquisition.
func WithHTTPClient(client *http.Client) Option {
	return func(inv *Invoker) {
		inv.acquirer = auth.NewAcquirer(client)
		inv.dial = defaultDial(inv, client)
	}
}

// NewInvoker creates an agent Invoker over a resolved manifest.
func NewInvoker(resolved *manifest.Resolved, providers kernel.ProviderResolver, opts ...Option) *Invoker {
	inv := &Invoker{
		resolved:  resolved,
		providers: providers,
		acquirer:  auth.NewAcquirer(nil),
		logger:    slog.Default(),
	}
	inv.dial = defaultDial(inv, nil)
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

func defaultDial(inv *Invoker, client *http.Client) DialFunc {
	return func(ctx context.Context, def *manifest.ChannelDef) (RemoteChannel, error) {
		opts := []a2a.Option{}
		if client != nil {
			opts = append(opts, a2a.WithHTTPClient(client))
		}
		if def.Auth != "" {
			policy, err := inv.resolved.AuthPolicy(def.Auth)
			if err != nil {
				return nil, err
			}
			cred, err := inv.acquirer.Acquire(ctx, policy)
			if err != nil {
				return nil, err
			}
			opts = append(opts, a2a.WithRequestDecorator(func(req *http.Request) {
				cred.Apply(req)
			}))
		}
		return a2a.Dial(ctx, def.Endpoint, def.AgentName, opts...)
	}
}

// Invoke produces the named agent's next turn given the conversation so
// far. The returned string is the agent's raw response content.
func (inv *Invoker) Invoke(ctx context.Context, name string, history core.History) (string, error) {
	def, err := inv.resolved.Agent(name)
	if err != nil {
		return "", err
	}
	switch def.Mode() {
	case manifest.ModeRemote:
		return inv.invokeRemote(ctx, def, history)
	default:
		return inv.invokeHosted(ctx, def, history)
	}
}

func (inv *Invoker) invokeHosted(ctx context.Context, def *manifest.AgentDef, history core.History) (string, error) {
	k, err := inv.resolved.Kernel(def.Kernel)
	if err != nil {
		return "", err
	}
	if k.Reasoning == nil {
		return "", errors.Newf(errors.CodeMissingProperty,
			"agents/%s: kernel %q has no reasoning capability", def.Name, def.Kernel)
	}
	provider, err := inv.providers(ctx, k.Reasoning)
	if err != nil {
		return "", err
	}

	system, err := inv.systemPrompt(ctx, def, history)
	if err != nil {
		return "", err
	}

	var tools []core.Tool
	if inv.tools != nil && len(k.Toolsets) > 0 {
		if tools, err = inv.kernelTools(ctx, k); err != nil {
			return "", err
		}
	}
	if len(tools) > 0 {
		system += toolDigest(tools)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, turn := range history {
		if turn.Agent == def.Name {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
			continue
		}
		content := turn.Content
		if turn.Agent != "" {
			content = turn.Agent + ": " + content
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})
	}

	if len(tools) > 0 {
		return inv.chatWithTools(ctx, def, k, provider, messages, tools)
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Model:       k.Reasoning.Model,
		Messages:    messages,
		Temperature: k.Reasoning.Temperature,
	})
	if err != nil {
		return "", mapProviderError(ctx, def.Name, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// systemPrompt assembles instructions, declared skills, and memory recall
// into the hosted agent's system message.
func (inv *Invoker) systemPrompt(ctx context.Context, def *manifest.AgentDef, history core.History) (string, error) {
	var sb strings.Builder
	sb.WriteString(def.Instructions)

	if len(def.Skills) > 0 {
		sb.WriteString("\n\nYour skills:")
		for _, skill := range def.Skills {
			sb.WriteString("\n- " + skill.Name)
			if skill.Description != "" {
				sb.WriteString(": " + skill.Description)
			}
		}
	}

	if def.Memory != "" && inv.memories != nil {
		entries, err := inv.recall(ctx, def, history)
		if err != nil {
			return "", err
		}
		if len(entries) > 0 {
			sb.WriteString("\n\nRelevant context:")
			for _, entry := range entries {
				sb.WriteString("\n- " + entry.Content)
			}
		}
	}
	return sb.String(), nil
}

func (inv *Invoker) recall(ctx context.Context, def *manifest.AgentDef, history core.History) ([]core.MemoryEntry, error) {
	backend, err := inv.memories(ctx, def.Memory)
	if err != nil {
		return nil, err
	}
	criteria := history.Last().Content
	entries, err := backend.Query(ctx, criteria, recallLimit)
	if err != nil {
		if we, ok := err.(*errors.WeftError); ok {
			return nil, we
		}
		return nil, errors.New(errors.CodeMemoryError, "memory recall failed", err).
			WithContext("agent", def.Name).
			WithContext("memory", def.Memory)
	}
	return entries, nil
}

func (inv *Invoker) invokeRemote(ctx context.Context, def *manifest.AgentDef, history core.History) (string, error) {
	channel, err := inv.dial(ctx, def.Channel)
	if err != nil {
		return "", err
	}
	inv.logger.DebugContext(ctx, "delegating turn to remote agent",
		"agent", def.Name, "endpoint", def.Channel.Endpoint)
	content, err := channel.Send(ctx, history)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// mapProviderError normalizes provider failures onto the error taxonomy,
// tagging them with the agent that triggered the call.
func mapProviderError(ctx context.Context, agentName string, err error) error {
	if we, ok := err.(*errors.WeftError); ok {
		return we.WithContext("agent", agentName)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.New(errors.CodeProviderTimeout, "provider call timed out", err).
			WithContext("agent", agentName)
	}
	if ctx.Err() == context.Canceled {
		return errors.New(errors.CodeCancelled, "provider call cancelled", err).
			WithContext("agent", agentName)
	}
	return errors.New(errors.CodeProviderUnavailable, "provider call failed", err).
		WithContext("agent", agentName)
}
