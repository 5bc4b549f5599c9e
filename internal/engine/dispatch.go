package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

type processedItem struct {
	stepRefID string
	itemID    string
}

// executeSteps walks the snapshot's steps in execution order, threading one
// packet from step to step, and records the final status.
func (e *engineImpl) executeSteps(ctx context.Context, run *api.Run) (*api.Run, error) {
	var (
		current *api.DataPacket
		items   []processedItem
	)

	for i, step := range run.Snapshot.OrderedSteps() {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, run, items, fmt.Errorf("run aborted before step %s: %w", step.StepRefID, err))
		}

		run.CurrentStep = i
		if err := e.runs.UpdateRun(ctx, run); err != nil {
			e.logger.Warn("Failed to record run progress", log.RunID(run.ID), log.Error(err))
		}

		handler, err := e.registry.Resolve(step.StepType, step.Handler)
		if err != nil {
			return e.fail(ctx, run, items, &api.HandlerError{StepRefID: step.StepRefID, StepType: step.StepType, Err: err})
		}

		prompt, err := e.effectivePrompt(ctx, run, step)
		if err != nil {
			return e.fail(ctx, run, items, fmt.Errorf("resolve prompt of step %s: %w", step.StepRefID, err))
		}

		req := api.StepRequest{
			Run: api.RunContext{
				RunID:        run.ID,
				InstanceID:   run.InstanceID,
				TemplateID:   run.TemplateID,
				InstanceName: run.Snapshot.InstanceName,
				StepIndex:    i,
			},
			Binding:   step.Clone(),
			Input:     current.Clone(),
			Settings:  api.MergeSettings(nil, step.Settings),
			Prompt:    prompt,
			Processed: e.processedCheck(step.StepRefID),
		}

		e.observer.OnStepStart(ctx, run, step)
		start := time.Now()
		res, err := invoke(ctx, handler, req)
		e.observer.OnStepCompleted(ctx, run, step, res, err, time.Since(start))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.fail(ctx, run, items, fmt.Errorf("step %s interrupted: %w", step.StepRefID, ctxErr))
		}
		if err != nil {
			return e.fail(ctx, run, items, &api.HandlerError{StepRefID: step.StepRefID, StepType: step.StepType, Err: err})
		}

		switch res.Outcome {
		case api.OutcomeNoItem:
			return e.finish(ctx, run, api.RunCompletedNoItems, current, items)
		case api.OutcomeSkip:
			run.SkipReason = res.Reason
			return e.finish(ctx, run, api.RunAgentSkipped, current, items)
		case api.OutcomeItem:
			if res.Packet == nil {
				return e.fail(ctx, run, items, &api.HandlerError{StepRefID: step.StepRefID, StepType: step.StepType, Err: errNoOutput})
			}
			next := res.Packet.Clone()
			if next.ItemID == "" && current != nil {
				next.ItemID = current.ItemID
			}
			if next.ItemID != "" {
				items = append(items, processedItem{stepRefID: step.StepRefID, itemID: next.ItemID})
			}
			current = next
		default:
			return e.fail(ctx, run, items, &api.HandlerError{
				StepRefID: step.StepRefID,
				StepType:  step.StepType,
				Err:       fmt.Errorf("unknown outcome %d", res.Outcome),
			})
		}
	}

	return e.finish(ctx, run, api.RunCompleted, current, items)
}

// effectivePrompt returns the prompt for one step invocation. Queue-capable
// steps take the head of their queue: consumed when the queue is enabled,
// read in place otherwise. Without a queued prompt the static prompt
// applies.
func (e *engineImpl) effectivePrompt(ctx context.Context, run *api.Run, step api.StepBinding) (string, error) {
	if !step.StepType.QueueCapable() {
		return step.Prompt, nil
	}

	if run.Direct() {
		return directPrompt(run, step), nil
	}
	if e.queue == nil {
		return step.Prompt, nil
	}

	if step.QueueEnabled {
		p, ok, err := e.queue.Pop(ctx, run.InstanceID, step.StepRefID)
		if err != nil {
			return "", err
		}
		if ok {
			if run.ConsumedPrompts == nil {
				run.ConsumedPrompts = make(map[string]string)
			}
			run.ConsumedPrompts[step.StepRefID] = p
			return p, nil
		}
		return step.Prompt, nil
	}

	p, ok, err := e.queue.Peek(ctx, run.InstanceID, step.StepRefID)
	if err != nil {
		return "", err
	}
	if ok {
		return p, nil
	}
	return step.Prompt, nil
}

// directPrompt applies the queue rules to the snapshot's own copy of the
// queue.
func directPrompt(run *api.Run, step api.StepBinding) string {
	b := run.Snapshot.Steps[step.StepRefID]
	if len(b.Queue) == 0 {
		return step.Prompt
	}
	p := b.Queue[0].Prompt
	if step.QueueEnabled {
		b.Queue = b.Queue[1:]
		run.Snapshot.Steps[step.StepRefID] = b
		if run.ConsumedPrompts == nil {
			run.ConsumedPrompts = make(map[string]string)
		}
		run.ConsumedPrompts[step.StepRefID] = p
	}
	return p
}

func (e *engineImpl) processedCheck(stepRefID string) func(ctx context.Context, itemID string) (bool, error) {
	return func(ctx context.Context, itemID string) (bool, error) {
		if e.processed == nil || itemID == "" {
			return false, nil
		}
		return e.processed.IsProcessed(ctx, stepRefID, itemID)
	}
}

type invocation struct {
	res api.Result
	err error
}

// invoke runs the handler and returns when it does or when ctx is done,
// whichever comes first. A handler that ignores cancellation is left to
// finish in the background and its result is discarded.
func invoke(ctx context.Context, h api.Handler, req api.StepRequest) (api.Result, error) {
	done := make(chan invocation, 1)
	go func() {
		res, err := call(ctx, h, req)
		done <- invocation{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return api.Result{}, ctx.Err()
	}
}

// call runs the handler and turns a panic into an error.
func call(ctx context.Context, h api.Handler, req api.StepRequest) (res api.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = api.Result{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, req)
}

func (e *engineImpl) fail(ctx context.Context, run *api.Run, items []processedItem, cause error) (*api.Run, error) {
	run.Error = cause.Error()
	return e.finish(ctx, run, api.RunFailed, nil, items)
}

// finish records the terminal status and its side effects. Bookkeeping
// uses a context detached from cancellation so that a timed out run is
// still recorded.
func (e *engineImpl) finish(ctx context.Context, run *api.Run, status api.RunStatus, output *api.DataPacket, items []processedItem) (*api.Run, error) {
	ctx = context.WithoutCancel(ctx)

	now := e.now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Output = output

	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("record run %s: %w", run.ID, err)
	}

	if !run.Direct() {
		if status == api.RunCompleted || status == api.RunAgentSkipped {
			e.markProcessed(ctx, run, items, now)
		}
		if status == api.RunCompleted {
			e.saveContent(ctx, run, now)
		}
		e.recordLastRun(ctx, run)
	}

	e.observer.OnRunFinished(ctx, run)
	return run, nil
}

func (e *engineImpl) markProcessed(ctx context.Context, run *api.Run, items []processedItem, at time.Time) {
	if e.processed == nil {
		return
	}
	for _, it := range items {
		if err := e.processed.MarkProcessed(ctx, it.stepRefID, it.itemID, at); err != nil {
			e.logger.Warn("Failed to mark item processed",
				log.RunID(run.ID),
				log.StepRef(it.stepRefID),
				log.Error(err),
			)
		}
	}
}

func (e *engineImpl) saveContent(ctx context.Context, run *api.Run, at time.Time) {
	if e.content == nil || run.Output == nil {
		return
	}
	title := run.Output.Title()
	if title == "" {
		return
	}

	url := run.Output.Get("url").String()
	if url == "" {
		url = run.Output.Metadata["url"]
	}
	rec := &api.ContentRecord{
		ID:         uuid.NewString(),
		Title:      title,
		URL:        url,
		InstanceID: run.InstanceID,
		RunID:      run.ID,
		CreatedAt:  at,
	}
	if err := e.content.SaveContent(ctx, rec); err != nil {
		e.logger.Warn("Failed to save content record", log.RunID(run.ID), log.Error(err))
	}
}

func (e *engineImpl) recordLastRun(ctx context.Context, run *api.Run) {
	at := run.CreatedAt
	if run.StartedAt != nil {
		at = *run.StartedAt
	}
	_, err := e.instances.ModifyInstance(ctx, run.InstanceID, func(inst *api.Instance) error {
		inst.LastRunAt = &at
		inst.LastRunStatus = run.Status
		return nil
	})
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		e.logger.Warn("Failed to record last run",
			log.RunID(run.ID),
			log.InstanceID(run.InstanceID),
			log.Error(err),
		)
	}
}
