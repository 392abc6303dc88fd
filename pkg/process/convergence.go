// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/kernel"
	"github.com/weftworks/weft/pkg/manifest"
)

// RunConverge executes a fan-out/fan-in process: optionally decompose the
// prompt into per-agent sub-prompts, invoke every participant
// concurrently, then synthesize the settled contributions into one
// output. Failed contributions reach synthesis as explicit absence
// markers; only when every agent fails does the run abort with
// ConvergenceExhausted, before synthesis is attempted.
func (r *Runner) RunConverge(ctx context.Context, name, prompt string) (*Result, error) {
	proc, err := r.process(name, manifest.ProcessConvergence)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:   newRunID(),
		Process: name,
		History: core.History{}.Append("user", prompt),
	}
	logger := r.logger.With("run_id", result.RunID, "process", name)
	logger.InfoContext(ctx, "convergence run started", "agents", len(proc.Agents))

	assignments := r.decompose(ctx, proc, prompt, result)

	// Fan-out: one task per agent, each writing to its own result slot.
	// Failures settle into the slot instead of aborting siblings.
	contributions := make([]Contribution, len(proc.Agents))
	group, groupCtx := errgroup.WithContext(ctx)
	if r.fanOutLimit > 0 {
		group.SetLimit(r.fanOutLimit)
	}
	for i, agentName := range proc.Agents {
		group.Go(func() error {
			turn := core.History{}.Append("user", assignments[agentName])
			output, invokeErr := r.invokeAgent(groupCtx, agentName, turn)
			contributions[i] = Contribution{Agent: agentName, Output: output, Err: invokeErr}
			return nil
		})
	}
	// Goroutines never return errors; failures settle into their slots.
	_ = group.Wait()

	if ctx.Err() != nil {
		result.Cancelled = true
		return result, errors.New(errors.CodeCancelled, "run cancelled", ctx.Err())
	}

	result.Contributions = contributions
	succeeded := 0
	for _, c := range contributions {
		if c.Absent() {
			logger.WarnContext(ctx, "agent contribution failed",
				"agent", c.Agent, "error", c.Err)
			continue
		}
		succeeded++
		result.History = result.History.Append(c.Agent, c.Output)
	}
	if succeeded == 0 {
		return result, errors.Newf(errors.CodeConvergenceExhausted,
			"processes/%s: all %d agent invocations failed", proc.Name, len(proc.Agents))
	}

	output, err := r.synthesize(ctx, proc, contributions)
	if err != nil {
		if cancelled(ctx, err) {
			result.Cancelled = true
		}
		return result, err
	}
	result.Output = output
	logger.InfoContext(ctx, "convergence run completed",
		"contributions", succeeded, "absent", len(contributions)-succeeded)
	return result, nil
}

// decompose assigns each agent its sub-prompt. Without a decomposition
// strategy, or when the strategy fails, every agent receives the original
// prompt; a strategy failure degrades with a warning instead of aborting
// the run.
func (r *Runner) decompose(ctx context.Context, proc *manifest.ProcessDef, prompt string, result *Result) map[string]string {
	assignments := make(map[string]string, len(proc.Agents))
	for _, agentName := range proc.Agents {
		assignments[agentName] = prompt
	}
	strategy := proc.Decomposition
	if strategy == nil {
		return assignments
	}

	binds := kernel.Bindings{
		orDefault(strategy.PromptVariableName, defaultPromptVariable): prompt,
		orDefault(strategy.AgentsVariableName, defaultAgentsVariable): proc.Agents,
	}
	value, err := r.evalStrategy(ctx, strategy, binds)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("decomposition strategy failed (%v); all agents receive the original prompt", err))
		return assignments
	}
	parts, ok := value.(map[string]any)
	if !ok {
		result.Warnings = append(result.Warnings,
			"decomposition strategy did not return an object; all agents receive the original prompt")
		return assignments
	}
	for _, agentName := range proc.Agents {
		part, found := parts[agentName]
		if !found {
			continue
		}
		text, err := kernel.Textual(part)
		if err != nil || text == "" {
			continue
		}
		assignments[agentName] = text
	}
	return assignments
}

// synthesize folds the settled contributions into the process output.
// Inputs are ordered by agent declaration order regardless of completion
// order; absent contributions appear as explicit markers.
func (r *Runner) synthesize(ctx context.Context, proc *manifest.ProcessDef, contributions []Contribution) (any, error) {
	inputs := make([]any, 0, len(contributions))
	for _, c := range contributions {
		if c.Absent() {
			inputs = append(inputs, map[string]any{
				"agent":  c.Agent,
				"absent": true,
				"reason": c.Err.Error(),
			})
			continue
		}
		inputs = append(inputs, map[string]any{
			"agent":  c.Agent,
			"output": c.Output,
		})
	}

	strategy := proc.Synthesis
	binds := kernel.Bindings{
		orDefault(strategy.InputsVariableName, defaultInputsVariable): inputs,
	}
	return r.evalStrategy(ctx, strategy, binds)
}
