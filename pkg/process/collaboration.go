// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"slices"
	"strings"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/kernel"
	"github.com/weftworks/weft/pkg/manifest"
)

// RunCollaboration executes a sequential turn-taking process. Turns are
// strictly ordered: no invocation begins before the prior response is
// appended to the history. The run ends when the termination strategy
// votes true or the iteration cap is reached; the cap is a normal
// terminal condition, flagged on the result, not an error.
func (r *Runner) RunCollaboration(ctx context.Context, name, prompt string) (*Result, error) {
	proc, err := r.process(name, manifest.ProcessCollaboration)
	if err != nil {
		return nil, err
	}

	maxIterations := proc.MaximumIterations
	if maxIterations <= 0 {
		maxIterations = manifest.DefaultMaximumIterations
	}

	result := &Result{
		RunID:   newRunID(),
		Process: name,
		History: core.History{}.Append("user", prompt),
	}
	logger := r.logger.With("run_id", result.RunID, "process", name)
	logger.InfoContext(ctx, "collaboration run started",
		"agents", len(proc.Agents), "maximum_iterations", maxIterations)

	for turn := 0; turn < maxIterations; turn++ {
		if ctx.Err() != nil {
			result.Cancelled = true
			return result, errors.New(errors.CodeCancelled, "run cancelled", ctx.Err())
		}

		agentName, err := r.nextAgent(ctx, proc, result.History, turn)
		if err != nil {
			if cancelled(ctx, err) {
				result.Cancelled = true
			}
			return result, err
		}

		response, err := r.invokeAgent(ctx, agentName, result.History)
		if err != nil {
			if cancelled(ctx, err) {
				result.Cancelled = true
			}
			return result, err
		}

		result.History = result.History.Append(agentName, response)
		result.Iterations = turn + 1
		result.Output = response
		logger.DebugContext(ctx, "turn completed", "turn", turn, "agent", agentName)

		done, err := r.shouldTerminate(ctx, proc, agentName, result.History)
		if err != nil {
			if cancelled(ctx, err) {
				result.Cancelled = true
			}
			return result, err
		}
		if done {
			logger.InfoContext(ctx, "collaboration run terminated by strategy",
				"iterations", result.Iterations)
			return result, nil
		}
	}

	result.CapTriggered = true
	logger.InfoContext(ctx, "collaboration run hit iteration cap",
		"iterations", result.Iterations)
	return result, nil
}

// nextAgent chooses who speaks on the given turn: the configured initial
// agent for turn zero, the selection strategy when present, otherwise
// declaration-order round-robin.
func (r *Runner) nextAgent(ctx context.Context, proc *manifest.ProcessDef, history core.History, turn int) (string, error) {
	if turn == 0 && proc.InitialAgent != "" {
		return proc.InitialAgent, nil
	}
	if proc.Selection == nil {
		return proc.Agents[turn%len(proc.Agents)], nil
	}

	binds := kernel.Bindings{
		orDefault(proc.Selection.AgentsVariableName, defaultAgentsVariable):   proc.Agents,
		orDefault(proc.Selection.HistoryVariableName, defaultHistoryVariable): history,
	}
	value, err := r.evalStrategy(ctx, proc.Selection, binds)
	if err != nil {
		return "", err
	}
	chosen, ok := value.(string)
	if ok {
		chosen = strings.TrimSpace(chosen)
	}
	if !ok || !slices.Contains(proc.Agents, chosen) {
		return "", errors.Newf(errors.CodeSelectionOutOfRange,
			"processes/%s: selection strategy chose %v, which is not a participant", proc.Name, value).
			WithContext("participants", proc.Agents)
	}
	return chosen, nil
}

// shouldTerminate evaluates the termination strategy after a turn. With
// no strategy configured only the iteration cap ends the run. A non-empty
// agents allow-list that excludes the just-invoked agent skips evaluation
// entirely, treated as a vote to continue.
func (r *Runner) shouldTerminate(ctx context.Context, proc *manifest.ProcessDef, agentName string, history core.History) (bool, error) {
	strategy := proc.Termination
	if strategy == nil {
		return false, nil
	}
	if len(strategy.Agents) > 0 && !slices.Contains(strategy.Agents, agentName) {
		return false, nil
	}

	binds := kernel.Bindings{
		orDefault(strategy.AgentVariableName, defaultAgentVariable):     agentName,
		orDefault(strategy.HistoryVariableName, defaultHistoryVariable): history,
	}
	value, err := r.evalStrategy(ctx, strategy, binds)
	if err != nil {
		return false, err
	}
	return asBool(value)
}
