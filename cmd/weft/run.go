// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/weftworks/weft/pkg/agent"
	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/guardrails"
	"github.com/weftworks/weft/pkg/kernel"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/memory"
	"github.com/weftworks/weft/pkg/process"
	"github.com/weftworks/weft/pkg/resolve"
	"github.com/weftworks/weft/pkg/telemetry"
	"github.com/weftworks/weft/pkg/toolset"
)

type runOutput struct {
	RunID        string   `json:"run_id"`
	Process      string   `json:"process"`
	Output       any      `json:"output"`
	Iterations   int      `json:"iterations"`
	CapTriggered bool     `json:"cap_triggered,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Transcript   string   `json:"transcript,omitempty"`
}

func runProcess(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	processName := cmd.String("process", "", "Process to execute")
	prompt := cmd.String("prompt", "", "Initial prompt")
	transcript := cmd.Bool("transcript", false, "Print the full conversation transcript")
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: weft run <manifest.yaml> --process <name> --prompt <text>"))
	}
	path := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}
	if strings.TrimSpace(*processName) == "" || strings.TrimSpace(*prompt) == "" {
		fatal(fmt.Errorf("both --process and --prompt are required"))
	}

	graph, err := manifest.LoadFile(path)
	if err != nil {
		fatal(err)
	}
	resolved, err := resolve.ResolveManifest(graph)
	if err != nil {
		fatal(err)
	}

	providers := providerResolver(cfg)
	kernels := kernel.NewInvoker(providers, kernel.WithSanitizer(guardrails.NewScreen()))
	toolsets := toolset.NewRegistry(resolved)
	defer toolsets.Close()
	agents := agent.NewInvoker(resolved, providers,
		agent.WithMemoryResolver(memory.Resolver(resolved)),
		agent.WithToolResolver(toolsets.Resolve))

	opts := []process.Option{}
	if cfg.Run.FanOutLimit > 0 {
		opts = append(opts, process.WithFanOutLimit(cfg.Run.FanOutLimit))
	}
	if metrics, err := telemetry.NewRunMetrics(); err == nil {
		opts = append(opts, process.WithMetrics(metrics))
	}
	runner := process.NewRunner(resolved, kernels, agents, opts...)

	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
	} else if cfg.Run.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Run.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, err := runner.Run(ctx, *processName, *prompt)
	if err != nil {
		printCLIError(err, flags.JSON)
		os.Exit(1)
	}

	out := runOutput{
		RunID:        result.RunID,
		Process:      result.Process,
		Output:       result.Output,
		Iterations:   result.Iterations,
		CapTriggered: result.CapTriggered,
		Warnings:     result.Warnings,
	}
	if *transcript {
		out.Transcript = result.History.Transcript()
	}

	if flags.JSON {
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(payload))
		return
	}
	fmt.Println(kernelText(out.Output))
	for _, warning := range out.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	if *transcript {
		fmt.Fprintln(os.Stderr, "---")
		fmt.Fprintln(os.Stderr, out.Transcript)
	}
}

// kernelText renders a run output for the terminal: strings pass through,
// structured outputs render as JSON.
func kernelText(value any) string {
	text, err := kernel.Textual(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return text
}

// providerResolver maps capability bindings onto concrete providers,
// filling gaps from the runtime configuration.
func providerResolver(cfg *config.Config) kernel.ProviderResolver {
	return func(_ context.Context, capability *manifest.CapabilityDef) (llm.Provider, error) {
		name := cfg.LLM.Provider
		baseURL := cfg.LLM.BaseURL
		model := cfg.LLM.Model
		if capability != nil {
			if capability.Provider != "" {
				name = capability.Provider
			}
			if capability.BaseURL != "" {
				baseURL = capability.BaseURL
			}
			if capability.Model != "" {
				model = capability.Model
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "ollama":
			return &defaultModelProvider{next: llm.NewOllama(baseURL), model: model}, nil
		default:
			return nil, errors.Newf(errors.CodeProviderUnavailable,
				"unknown provider %q", name)
		}
	}
}

// defaultModelProvider fills in the configured model when the capability
// binding leaves it empty.
type defaultModelProvider struct {
	next  llm.Provider
	model string
}

func (p *defaultModelProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	return p.next.Chat(ctx, req)
}
