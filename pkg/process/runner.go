// SPDX-License-Identifier: Apache-2.0

// Package process executes agentic processes over a resolved manifest:
// collaboration (sequential turn-taking) and convergence (parallel
// decompose/synthesize). All strategy roles share one kernel-function
// invocation primitive, parameterized only by the variable names each
// role binds.
package process

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/kernel"
	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/resilience"
	"github.com/weftworks/weft/pkg/telemetry"
)

// Default variable names used when a strategy does not override them.
const (
	defaultAgentsVariable  = "agents"
	defaultHistoryVariable = "history"
	defaultAgentVariable   = "agent"
	defaultPromptVariable  = "prompt"
	defaultInputsVariable  = "inputs"
)

// AgentInvoker produces one agent turn. Satisfied by *agent.Invoker.
type AgentInvoker interface {
	Invoke(ctx context.Context, name string, history core.History) (string, error)
}

// Contribution is one agent's outcome in a convergence fan-out. Either
// Output is set or Err explains the absence.
type Contribution struct {
	Agent  string
	Output string
	Err    error
}

// Absent reports whether the agent failed to contribute.
func (c Contribution) Absent() bool { return c.Err != nil }

// Result is the terminal outcome of a process run.
type Result struct {
	// RunID uniquely identifies this run for logging and correlation.
	RunID string
	// Process is the name of the process definition that ran.
	Process string
	// Output is the run's final value: the last turn for collaboration,
	// the synthesis output for convergence.
	Output any
	// History is the transcript, in real invocation order.
	History core.History
	// Iterations counts completed agent turns (collaboration only).
	Iterations int
	// CapTriggered is set when the run ended by hitting the iteration
	// cap rather than by the termination strategy.
	CapTriggered bool
	// Cancelled is set when the run stopped because its context ended.
	Cancelled bool
	// Contributions holds the per-agent fan-out outcomes in declaration
	// order (convergence only).
	Contributions []Contribution
	// Warnings records non-fatal degradations, such as a decomposition
	// strategy falling back to the undecomposed prompt.
	Warnings []string
}

// Runner executes processes against a read-only resolved manifest. One
// Runner serves any number of concurrent runs; each run owns its history
// exclusively.
type Runner struct {
	resolved    *manifest.Resolved
	kernels     *kernel.Invoker
	agents      AgentInvoker
	retry       resilience.RetryConfig
	fanOutLimit int
	metrics     *telemetry.RunMetrics
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetry replaces the per-invocation retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = rc }
}

// WithFanOutLimit bounds concurrent agent invocations during convergence
// fan-out. Zero or negative means one task per agent, unbounded.
func WithFanOutLimit(n int) Option {
	return func(r *Runner) { r.fanOutLimit = n }
}

// WithMetrics installs run counters. A nil receiver is valid, so the
// runner records nothing unless this is set.
func WithMetrics(m *telemetry.RunMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a process Runner.
func NewRunner(resolved *manifest.Resolved, kernels *kernel.Invoker, agents AgentInvoker, opts ...Option) *Runner {
	r := &Runner{
		resolved: resolved,
		kernels:  kernels,
		agents:   agents,
		retry:    resilience.DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run dispatches to the engine matching the process kind.
func (r *Runner) Run(ctx context.Context, name, prompt string) (*Result, error) {
	proc, err := r.resolved.Process(name)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	r.metrics.RecordRunStart(ctx, name, string(proc.Kind))

	var result *Result
	switch proc.Kind {
	case manifest.ProcessConvergence:
		result, err = r.RunConverge(ctx, name, prompt)
	default:
		result, err = r.RunCollaboration(ctx, name, prompt)
	}

	r.metrics.RecordRunEnd(ctx, name, string(proc.Kind), started, err != nil)
	if result != nil {
		if proc.Kind == manifest.ProcessCollaboration {
			for _, turn := range result.History {
				if turn.Agent != "user" {
					r.metrics.RecordTurn(ctx, name, turn.Agent)
				}
			}
		}
		for _, contribution := range result.Contributions {
			r.metrics.RecordContribution(ctx, name, contribution.Agent, contribution.Absent())
		}
	}
	return result, err
}

// process looks up a definition and checks it is of the expected kind.
func (r *Runner) process(name string, kind manifest.ProcessKind) (*manifest.ProcessDef, error) {
	proc, err := r.resolved.Process(name)
	if err != nil {
		return nil, err
	}
	if proc.Kind != kind {
		return nil, errors.Newf(errors.CodeMissingProperty,
			"processes/%s: is a %s process, not %s", name, proc.Kind, kind)
	}
	return proc, nil
}

// evalStrategy is the shared invocation primitive behind selection,
// termination, decomposition, and synthesis: resolve the strategy's
// kernel function, bind the role's variables, and dispatch with the
// configured retry policy.
func (r *Runner) evalStrategy(ctx context.Context, strategy *manifest.StrategyDef, binds kernel.Bindings) (any, error) {
	fn, err := r.resolved.Function(strategy.Function)
	if err != nil {
		return nil, err
	}
	k, err := r.resolved.Kernel(fn.Kernel)
	if err != nil {
		return nil, err
	}
	var out any
	err = r.retry.Do(ctx, func() error {
		value, invokeErr := r.kernels.Invoke(ctx, fn, k, binds)
		if invokeErr != nil {
			return invokeErr
		}
		out = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// invokeAgent runs one agent turn under the retry policy.
func (r *Runner) invokeAgent(ctx context.Context, name string, history core.History) (string, error) {
	var out string
	err := r.retry.Do(ctx, func() error {
		response, invokeErr := r.agents.Invoke(ctx, name, history)
		if invokeErr != nil {
			return invokeErr
		}
		out = response
		return nil
	})
	return out, err
}

// cancelled reports whether a run should stop with a Cancelled result.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.IsCode(err, errors.CodeCancelled)
}

func orDefault(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// asBool coerces a kernel-function result into the termination verdict.
func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
	}
	return false, errors.Newf(errors.CodeSchemaViolation,
		"termination strategy returned %v, expected a boolean", value)
}

func newRunID() string { return uuid.NewString() }
