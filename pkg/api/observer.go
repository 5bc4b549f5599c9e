package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunStart is called once a run has been claimed, before the first
	// step is executed.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunFinished is called when a run reaches a terminal status.
	OnRunFinished(ctx context.Context, run *Run)

	// OnStepStart is called before invoking a step handler.
	OnStepStart(ctx context.Context, run *Run, step StepBinding)

	// OnStepCompleted is called after a step handler returns, for every
	// outcome including failures (err != nil).
	OnStepCompleted(ctx context.Context, run *Run, step StepBinding, res Result, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                    {}
func (NoopObserver) OnRunFinished(ctx context.Context, run *Run)                 {}
func (NoopObserver) OnStepStart(ctx context.Context, run *Run, step StepBinding) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, run *Run, step StepBinding, res Result, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, run)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run *Run, step StepBinding) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *Run, step StepBinding, res Result, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, step, res, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run_id", run.ID),
		slog.String("instance_id", run.InstanceID),
		slog.String("instance", run.Snapshot.InstanceName),
	)
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, run *Run) {
	level := slog.LevelInfo
	if run.Status == RunFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "run_finished",
		slog.String("run_id", run.ID),
		slog.String("instance_id", run.InstanceID),
		slog.String("status", string(run.Status)),
		slog.String("error", run.Error),
		slog.String("skip_reason", run.SkipReason),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run *Run, step StepBinding) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("run_id", run.ID),
		slog.String("step_ref_id", step.StepRefID),
		slog.String("step_type", string(step.StepType)),
		slog.Int("execution_order", step.ExecutionOrder),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *Run, step StepBinding, res Result, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("run_id", run.ID),
		slog.String("step_ref_id", step.StepRefID),
		slog.String("step_type", string(step.StepType)),
		slog.String("outcome", res.Outcome.String()),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsNoItems       atomic.Int64
	runsSkipped       atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsNoItems   int64
	RunsSkipped   int64
	RunsFailed    int64
	InFlightRuns  int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunFinished(ctx context.Context, run *Run) {
	switch run.Status {
	case RunCompleted:
		m.runsCompleted.Add(1)
	case RunCompletedNoItems:
		m.runsNoItems.Add(1)
	case RunAgentSkipped:
		m.runsSkipped.Add(1)
	case RunFailed:
		m.runsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run *Run, step StepBinding, res Result, err error, d time.Duration) {
	// Only successful steps count toward the average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	noItems := m.runsNoItems.Load()
	skipped := m.runsSkipped.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsNoItems:     noItems,
		RunsSkipped:     skipped,
		RunsFailed:      failed,
		InFlightRuns:    started - completed - noItems - skipped - failed,
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
