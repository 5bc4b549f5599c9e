// Package scheduler maps instance schedules onto triggers in the
// background runner's queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/internal/taskqueue"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// DefaultIntervals are the named intervals available to interval
// schedules.
var DefaultIntervals = map[string]time.Duration{
	"every_5_minutes": 5 * time.Minute,
	"hourly":          time.Hour,
	"every_2_hours":   2 * time.Hour,
	"every_4_hours":   4 * time.Hour,
	"qtrdaily":        6 * time.Hour,
	"twicedaily":      12 * time.Hour,
	"daily":           24 * time.Hour,
	"weekly":          7 * 24 * time.Hour,
}

// Adapter registers instance triggers in a taskqueue.Queue. Apply, Clear
// and Reschedule are serialized so that a worker re-registering a claimed
// trigger never races a schedule change.
type Adapter struct {
	mu        sync.Mutex
	queue     taskqueue.Queue
	instances persistence.InstanceStore
	intervals map[string]time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIntervals adds or overrides named intervals.
func WithIntervals(extra map[string]time.Duration) Option {
	return func(a *Adapter) { maps.Copy(a.intervals, extra) }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter returns an Adapter registering triggers in q. instances is
// read by Reconcile.
func NewAdapter(q taskqueue.Queue, instances persistence.InstanceStore, opts ...Option) *Adapter {
	a := &Adapter{
		queue:     q,
		instances: instances,
		intervals: maps.Clone(DefaultIntervals),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Interval returns the duration of a named interval.
func (a *Adapter) Interval(name string) (time.Duration, bool) {
	d, ok := a.intervals[name]
	return d, ok && d > 0
}

// Intervals returns a copy of the named intervals.
func (a *Adapter) Intervals() map[string]time.Duration {
	return maps.Clone(a.intervals)
}

// Validate rejects unknown intervals and malformed cron expressions.
func (a *Adapter) Validate(s api.Schedule) error {
	switch s := s.(type) {
	case nil, api.ScheduleManual:
		return nil
	case api.ScheduleInterval:
		if _, ok := a.Interval(s.Interval); !ok {
			return fmt.Errorf("%w: unknown interval %q", api.ErrValidation, s.Interval)
		}
	case api.ScheduleCron:
		if _, err := taskqueue.ParseCron(s.Expression); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", api.ErrValidation, s.Expression, err)
		}
	case api.ScheduleOneTime:
		if s.At.IsZero() {
			return fmt.Errorf("%w: one-time schedule without a time", api.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported schedule %T", api.ErrValidation, s)
	}
	return nil
}

// Apply removes every trigger of inst and registers the ones its schedule
// calls for. Calling it repeatedly with the same schedule leaves exactly
// one trigger.
func (a *Adapter) Apply(ctx context.Context, inst *api.Instance) error {
	if err := a.Validate(inst.Schedule); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.clear(ctx, inst.ID); err != nil {
		return err
	}

	t, ok, err := a.triggerFor(inst)
	if err != nil || !ok {
		return err
	}
	if err := a.queue.Schedule(ctx, t); err != nil {
		return fmt.Errorf("register trigger: %w", err)
	}

	a.logger.Debug("Instance scheduled",
		log.InstanceID(inst.ID),
		slog.String("kind", string(t.Kind)),
		slog.Time("next_run_at", t.NextRunAt),
	)
	return nil
}

// triggerFor builds the trigger for inst's schedule. ok is false when no
// trigger is needed.
func (a *Adapter) triggerFor(inst *api.Instance) (taskqueue.Trigger, bool, error) {
	now := a.now().UTC()
	t := taskqueue.Trigger{
		Hook:       taskqueue.HookRunInstance,
		InstanceID: inst.ID,
	}

	switch s := inst.Schedule.(type) {
	case api.ScheduleInterval:
		d, _ := a.Interval(s.Interval)
		t.Kind = taskqueue.KindRecurring
		t.Period = d
		t.NextRunAt = now.Add(d)
	case api.ScheduleCron:
		sched, err := taskqueue.ParseCron(s.Expression)
		if err != nil {
			return t, false, err
		}
		t.Kind = taskqueue.KindCron
		t.Cron = s.Expression
		t.NextRunAt = sched.Next(now)
	case api.ScheduleOneTime:
		if !s.At.After(now) {
			a.logger.Debug("Skipping expired one-time schedule",
				log.InstanceID(inst.ID),
				slog.Time("at", s.At),
			)
			return t, false, nil
		}
		t.Kind = taskqueue.KindOnce
		t.NextRunAt = s.At.UTC()
	default:
		return t, false, nil
	}
	return t, true, nil
}

// Clear removes every schedule trigger of the instance. Runs queued with
// worker.EnqueueRun use their own hook and are kept.
func (a *Adapter) Clear(ctx context.Context, instanceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clear(ctx, instanceID)
}

func (a *Adapter) clear(ctx context.Context, instanceID string) error {
	if _, err := a.queue.Unschedule(ctx, taskqueue.HookRunInstance, instanceID); err != nil {
		return fmt.Errorf("unschedule instance %s: %w", instanceID, err)
	}
	return nil
}

// Reschedule registers the occurrence following a claimed schedule
// trigger. Nothing is registered when the instance is gone, when its
// schedule no longer produces the trigger, or when a trigger was registered
// for it after the claim.
func (a *Adapter) Reschedule(ctx context.Context, fired taskqueue.Trigger) error {
	if fired.Hook != taskqueue.HookRunInstance {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	inst, err := a.instances.GetInstance(ctx, fired.InstanceID)
	if errors.Is(err, api.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !a.produces(inst, fired) {
		a.logger.Debug("Dropping trigger of a changed schedule",
			log.InstanceID(inst.ID),
			slog.String("kind", string(fired.Kind)),
		)
		return nil
	}

	pending, err := a.queue.List(ctx, inst.ID)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if t.Hook == taskqueue.HookRunInstance {
			return nil
		}
	}

	next, ok, err := fired.Next(a.now().UTC())
	if err != nil || !ok {
		return err
	}
	return a.queue.Schedule(ctx, next)
}

// produces reports whether inst's current schedule registers triggers like
// t.
func (a *Adapter) produces(inst *api.Instance, t taskqueue.Trigger) bool {
	switch s := inst.Schedule.(type) {
	case api.ScheduleInterval:
		d, ok := a.Interval(s.Interval)
		return ok && t.Kind == taskqueue.KindRecurring && t.Period == d
	case api.ScheduleCron:
		return t.Kind == taskqueue.KindCron && t.Cron == s.Expression
	default:
		return false
	}
}

// Reconcile re-applies the schedule of every persisted instance with a
// non-manual schedule. An instance that fails is logged and skipped.
func (a *Adapter) Reconcile(ctx context.Context) (int, error) {
	list, err := a.instances.ListInstances(ctx, persistence.InstanceFilter{Scheduled: true})
	if err != nil {
		return 0, err
	}

	var (
		applied int
		errs    []error
	)
	for _, inst := range list {
		if err := a.Apply(ctx, inst); err != nil {
			a.logger.Warn("Failed to reschedule instance",
				log.InstanceID(inst.ID),
				log.Error(err),
			)
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.ID, err))
			continue
		}
		applied++
	}

	a.logger.Info("Schedules reconciled",
		slog.Int("applied", applied),
		slog.Int("failed", len(errs)),
	)
	return applied, errors.Join(errs...)
}

// NextRun returns the earliest pending trigger time of the instance, or
// nil when nothing is scheduled.
func (a *Adapter) NextRun(ctx context.Context, instanceID string) (*time.Time, error) {
	triggers, err := a.queue.List(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	for _, t := range triggers {
		if t.Hook != taskqueue.HookRunInstance {
			continue
		}
		if next == nil || t.NextRunAt.Before(*next) {
			at := t.NextRunAt
			next = &at
		}
	}
	return next, nil
}
