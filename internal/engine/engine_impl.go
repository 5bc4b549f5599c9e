package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// PromptQueue is the part of the prompt queue the dispatcher uses.
type PromptQueue interface {
	Pop(ctx context.Context, instanceID, stepRefID string) (string, bool, error)
	Peek(ctx context.Context, instanceID, stepRefID string) (string, bool, error)
}

// DefaultProblemThreshold is used when ProblemInstances gets a
// non-positive threshold.
const DefaultProblemThreshold = 3

// engineImpl is a synchronous, in-process step dispatcher. Each Execute
// call runs one run to completion on the caller's goroutine.
type engineImpl struct {
	templates persistence.TemplateStore
	instances persistence.InstanceStore
	runs      persistence.RunStore
	content   persistence.ContentStore
	processed persistence.ProcessedStore

	registry *Registry
	queue    PromptQueue
	observer api.Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Config describes how to construct an engine.
type Config struct {
	Persistence persistence.Persistence
	Registry    *Registry
	Queue       PromptQueue
	Observer    api.Observer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &engineImpl{
		templates: cfg.Persistence.Templates,
		instances: cfg.Persistence.Instances,
		runs:      cfg.Persistence.Runs,
		content:   cfg.Persistence.Content,
		processed: cfg.Persistence.Processed,
		registry:  reg,
		queue:     cfg.Queue,
		observer:  obs,
		logger:    logger,
		now:       clock,
	}
}

// NewEngine returns an Engine over p using reg and q.
func NewEngine(p persistence.Persistence, reg *Registry, q PromptQueue) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
		Registry:    reg,
		Queue:       q,
	})
}

func (e *engineImpl) CreateRun(ctx context.Context, instanceID string) (*api.Run, error) {
	inst, err := e.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	tpl, err := e.templates.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}

	run := &api.Run{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		TemplateID: tpl.ID,
		Status:     api.RunPending,
		CreatedAt:  e.now().UTC(),
		Snapshot:   snapshotOf(inst, tpl),
	}
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (e *engineImpl) CreateDirectRun(ctx context.Context, snap api.Snapshot) (*api.Run, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	run := &api.Run{
		ID:         uuid.NewString(),
		InstanceID: api.DirectID,
		TemplateID: api.DirectID,
		Status:     api.RunPending,
		CreatedAt:  e.now().UTC(),
		Snapshot:   snap.Clone(),
	}
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute claims a pending run and executes it. A run that fails, skips or
// produces no item is not an error: its status says what happened. Errors
// are reserved for runs that cannot be claimed or recorded.
func (e *engineImpl) Execute(ctx context.Context, runID string) (*api.Run, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	started := e.now().UTC()
	claimed, err := e.runs.TransitionRun(ctx, runID, api.RunPending, api.RunRunning, started)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := e.runs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			return current, nil
		}
		return nil, fmt.Errorf("%w: run %s is %s", api.ErrRunNotPending, runID, current.Status)
	}

	run.Status = api.RunRunning
	run.StartedAt = &started

	e.observer.OnRunStart(ctx, run)
	return e.executeSteps(ctx, run)
}

func (e *engineImpl) RunInstance(ctx context.Context, instanceID string) (*api.Run, error) {
	run, err := e.CreateRun(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, run.ID)
}

func (e *engineImpl) RunDirect(ctx context.Context, snap api.Snapshot) (*api.Run, error) {
	run, err := e.CreateDirectRun(ctx, snap)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, run.ID)
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	return e.runs.GetRun(ctx, id)
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown run status %q", api.ErrValidation, opts.Status)
	}
	return e.runs.ListRuns(ctx, persistence.RunFilter{
		InstanceID: opts.InstanceID,
		Status:     opts.Status,
		Limit:      opts.Limit,
	})
}

// RecoverStuckRuns marks every run left in the running state as failed.
func (e *engineImpl) RecoverStuckRuns(ctx context.Context) (int, error) {
	stuck, err := e.runs.ListRuns(ctx, persistence.RunFilter{Status: api.RunRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range stuck {
		now := e.now().UTC()
		ok, err := e.runs.TransitionRun(ctx, run.ID, api.RunRunning, api.RunFailed, now)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}

		run.Status = api.RunFailed
		run.CompletedAt = &now
		run.Error = "run interrupted before completion"
		if err := e.runs.UpdateRun(ctx, run); err != nil {
			return recovered, err
		}
		if !run.Direct() {
			e.recordLastRun(ctx, run)
		}
		recovered++

		e.logger.Warn("Recovered stuck run",
			log.RunID(run.ID),
			log.InstanceID(run.InstanceID),
		)
	}
	return recovered, nil
}

// snapshotOf copies everything a run needs from the instance and its
// template. Step settings are the template config overlaid with the
// binding's settings; an unset binding prompt falls back to the template's
// static prompt.
func snapshotOf(inst *api.Instance, tpl *api.Template) api.Snapshot {
	steps := make(map[string]api.StepBinding, len(inst.Steps))
	for ref, b := range inst.Steps {
		c := b.Clone()
		if idx := tpl.StepIndex(b.SourceStepID); idx >= 0 {
			def := tpl.Steps[idx]
			c.Settings = api.MergeSettings(def.Config, b.Settings)
			if c.Prompt == "" {
				c.Prompt = def.StaticPrompt()
			}
		}
		steps[ref] = c
	}
	return api.Snapshot{
		InstanceName: inst.Name,
		TemplateName: tpl.Name,
		Steps:        steps,
	}
}

func validateSnapshot(snap api.Snapshot) error {
	if len(snap.Steps) == 0 {
		return fmt.Errorf("%w: snapshot has no steps", api.ErrValidation)
	}
	orders := make(map[int]string, len(snap.Steps))
	for ref, b := range snap.Steps {
		if ref != b.StepRefID {
			return fmt.Errorf("%w: step key %q does not match step_ref_id %q", api.ErrValidation, ref, b.StepRefID)
		}
		if !b.StepType.Valid() {
			return fmt.Errorf("%w: step %s has unknown type %q", api.ErrValidation, ref, b.StepType)
		}
		if other, dup := orders[b.ExecutionOrder]; dup {
			return fmt.Errorf("%w: steps %s and %s share execution order %d", api.ErrValidation, other, ref, b.ExecutionOrder)
		}
		orders[b.ExecutionOrder] = ref
	}
	return nil
}

var errNoOutput = errors.New("step produced no output")
