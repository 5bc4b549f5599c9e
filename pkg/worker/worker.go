package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/contentflow/internal/taskqueue"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// DefaultJobTimeout bounds a single run when Config.JobTimeout is unset.
const DefaultJobTimeout = 600 * time.Second

// Config controls worker behavior.
type Config struct {
	// JobTimeout bounds each run. A run that exceeds it ends failed.
	JobTimeout time.Duration

	// Rescheduler re-registers claimed schedule triggers. Without one the
	// worker derives the next occurrence from the trigger alone.
	Rescheduler Rescheduler

	Logger *slog.Logger
	Clock  func() time.Time
}

// Rescheduler registers the occurrence following a claimed trigger,
// checking it against the instance's current schedule.
// scheduler.Adapter implements it.
type Rescheduler interface {
	Reschedule(ctx context.Context, fired taskqueue.Trigger) error
}

// Worker claims due triggers from a Queue and runs the instance they fire
// for.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// ErrUnknownHook is returned for triggers the worker cannot handle.
var ErrUnknownHook = errors.New("unknown trigger hook")

// New creates a Worker with the default configuration.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker with explicit configuration.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Worker{engine: engine, queue: queue, cfg: cfg}
}

// EnqueueRun registers a one-shot trigger that runs the instance at the
// given time, or as soon as a worker is free when at is zero.
func (w *Worker) EnqueueRun(ctx context.Context, instanceID string, at time.Time) error {
	if at.IsZero() {
		at = w.cfg.Clock()
	}
	return w.queue.Schedule(ctx, taskqueue.Trigger{
		Hook:       taskqueue.HookManualRun,
		InstanceID: instanceID,
		Kind:       taskqueue.KindOnce,
		NextRunAt:  at.UTC(),
	})
}

// ProcessOne claims a single due trigger and runs it.
// Returns (processed, error):
//   - processed == false: no trigger was claimed; err is the dequeue error
//     (context cancellation included).
//   - processed == true: a trigger was handled; err is non-nil only when
//     the run could not be created or recorded. A run that ends failed,
//     skipped or without items is not an error.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	t, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	switch t.Hook {
	case taskqueue.HookRunInstance, taskqueue.HookManualRun:
	default:
		return true, fmt.Errorf("%w: %s", ErrUnknownHook, t.Hook)
	}

	w.reschedule(ctx, t)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	run, err := w.engine.RunInstance(jobCtx, t.InstanceID)
	if errors.Is(err, api.ErrNotFound) {
		// The instance was deleted after its trigger was claimed.
		for _, hook := range []string{taskqueue.HookRunInstance, taskqueue.HookManualRun} {
			if _, uerr := w.queue.Unschedule(ctx, hook, t.InstanceID); uerr != nil {
				w.cfg.Logger.Warn("Failed to drop triggers of missing instance",
					log.InstanceID(t.InstanceID),
					log.Error(uerr),
				)
			}
		}
		w.cfg.Logger.Warn("Trigger fired for missing instance", log.InstanceID(t.InstanceID))
		return true, nil
	}
	if err != nil {
		w.cfg.Logger.Error("Scheduled run failed to execute",
			log.InstanceID(t.InstanceID),
			log.Error(err),
		)
		return true, err
	}

	w.cfg.Logger.Info("Scheduled run finished",
		log.RunID(run.ID),
		log.InstanceID(run.InstanceID),
		log.Status(run.Status),
	)
	return true, nil
}

// reschedule registers the next occurrence of a recurring trigger before
// the run starts, so a long or crashing run never loses the schedule.
func (w *Worker) reschedule(ctx context.Context, t *taskqueue.Trigger) {
	var err error
	if w.cfg.Rescheduler != nil {
		err = w.cfg.Rescheduler.Reschedule(ctx, *t)
	} else {
		var (
			next taskqueue.Trigger
			ok   bool
		)
		next, ok, err = t.Next(w.cfg.Clock().UTC())
		if err == nil && ok {
			err = w.queue.Schedule(ctx, next)
		}
	}
	if err != nil {
		w.cfg.Logger.Error("Failed to reschedule trigger",
			log.InstanceID(t.InstanceID),
			slog.String("kind", string(t.Kind)),
			log.Error(err),
		)
	}
}

// Run starts concurrency loops calling ProcessOne until ctx is cancelled.
// Errors from individual triggers are logged and do not stop the loops.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range concurrency {
		g.Go(func() error {
			logger := w.cfg.Logger.With(slog.Int("worker", i))
			for {
				processed, err := w.ProcessOne(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					logger.Error("Worker error", log.Error(err))
					if !processed {
						// Dequeue failures are usually backend outages.
						if werr := pause(ctx, time.Second); werr != nil {
							return nil
						}
					}
				}
			}
		})
	}
	return g.Wait()
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
