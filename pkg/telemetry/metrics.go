// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics records runtime counters for process executions.
type RunMetrics struct {
	runsTotal          metric.Int64Counter
	runsFailed         metric.Int64Counter
	turnsTotal         metric.Int64Counter
	contributionsTotal metric.Int64Counter
	runDuration        metric.Float64Histogram
}

// NewRunMetrics registers instruments on the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	meter := otel.Meter("weft/process")

	runsTotal, err := meter.Int64Counter(
		"weft.runs.total",
		metric.WithDescription("Total number of process runs started"),
	)
	if err != nil {
		return nil, err
	}

	runsFailed, err := meter.Int64Counter(
		"weft.runs.failed",
		metric.WithDescription("Total number of process runs that ended in error"),
	)
	if err != nil {
		return nil, err
	}

	turnsTotal, err := meter.Int64Counter(
		"weft.turns.total",
		metric.WithDescription("Total agent turns taken across collaboration runs"),
	)
	if err != nil {
		return nil, err
	}

	contributionsTotal, err := meter.Int64Counter(
		"weft.contributions.total",
		metric.WithDescription("Total agent contributions gathered across convergence runs"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"weft.run.duration",
		metric.WithDescription("Process run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsTotal:          runsTotal,
		runsFailed:         runsFailed,
		turnsTotal:         turnsTotal,
		contributionsTotal: contributionsTotal,
		runDuration:        runDuration,
	}, nil
}

// RecordRunStart increments the run counter for the given process kind.
func (m *RunMetrics) RecordRunStart(ctx context.Context, process, kind string) {
	if m == nil {
		return
	}
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("process", process),
		attribute.String("kind", kind),
	))
}

// RecordRunEnd records the run duration and, on failure, the failed counter.
func (m *RunMetrics) RecordRunEnd(ctx context.Context, process, kind string, started time.Time, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("process", process),
		attribute.String("kind", kind),
	)
	m.runDuration.Record(ctx, time.Since(started).Seconds(), attrs)
	if failed {
		m.runsFailed.Add(ctx, 1, attrs)
	}
}

// RecordTurn increments the turn counter for a collaboration run.
func (m *RunMetrics) RecordTurn(ctx context.Context, process, agent string) {
	if m == nil {
		return
	}
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("process", process),
		attribute.String("agent", agent),
	))
}

// RecordContribution increments the contribution counter for a convergence run.
func (m *RunMetrics) RecordContribution(ctx context.Context, process, agent string, absent bool) {
	if m == nil {
		return
	}
	m.contributionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("process", process),
		attribute.String("agent", agent),
		attribute.Bool("absent", absent),
	))
}
