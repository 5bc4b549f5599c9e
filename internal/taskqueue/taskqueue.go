// Package taskqueue is the background runner's trigger queue. A trigger
// names a hook and the instance it fires for; the worker claims due
// triggers, re-registers recurring ones and runs the instance.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies how a trigger repeats.
type Kind string

const (
	KindOnce      Kind = "once"
	KindRecurring Kind = "recurring"
	KindCron      Kind = "cron"
)

const (
	// HookRunInstance is the hook the scheduler registers for instance
	// schedules.
	HookRunInstance = "contentflow.run_instance"

	// HookManualRun marks one-shot runs queued on demand. Schedule changes
	// leave them in place.
	HookManualRun = "contentflow.manual_run"
)

// DefaultPollInterval is how often a blocked Dequeue looks for due
// triggers.
const DefaultPollInterval = 20 * time.Millisecond

// ErrInvalidTrigger is returned when a trigger cannot be scheduled.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Trigger is a unit of scheduled work.
type Trigger struct {
	ID         string
	Hook       string
	InstanceID string
	Kind       Kind

	// NextRunAt is the earliest time the trigger may be claimed.
	NextRunAt time.Time

	// Period applies to recurring triggers.
	Period time.Duration

	// Cron is a standard five-field expression for cron triggers.
	Cron string

	EnqueuedAt time.Time
}

// Validate checks that t can be scheduled.
func (t Trigger) Validate() error {
	if t.Hook == "" || t.InstanceID == "" {
		return fmt.Errorf("%w: hook and instance are required", ErrInvalidTrigger)
	}
	if t.NextRunAt.IsZero() {
		return fmt.Errorf("%w: next run time is not set", ErrInvalidTrigger)
	}
	switch t.Kind {
	case KindOnce:
	case KindRecurring:
		if t.Period <= 0 {
			return fmt.Errorf("%w: recurring trigger needs a positive period", ErrInvalidTrigger)
		}
	case KindCron:
		if _, err := ParseCron(t.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

// Next returns the occurrence following a fired trigger, never earlier
// than now. ok is false for one-shot triggers.
func (t Trigger) Next(now time.Time) (next Trigger, ok bool, err error) {
	next = t
	next.ID = ""
	next.EnqueuedAt = time.Time{}

	switch t.Kind {
	case KindRecurring:
		at := t.NextRunAt.Add(t.Period)
		if !at.After(now) {
			missed := now.Sub(at)/t.Period + 1
			at = at.Add(missed * t.Period)
		}
		next.NextRunAt = at
		return next, true, nil
	case KindCron:
		sched, err := ParseCron(t.Cron)
		if err != nil {
			return Trigger{}, false, err
		}
		next.NextRunAt = sched.Next(now)
		return next, true, nil
	default:
		return Trigger{}, false, nil
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a standard cron expression or descriptor such as
// "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Queue stores triggers until they are due.
type Queue interface {
	// Schedule registers t. An empty ID is assigned.
	Schedule(ctx context.Context, t Trigger) error

	// Unschedule removes every trigger for hook and instanceID and reports
	// how many were removed.
	Unschedule(ctx context.Context, hook, instanceID string) (int, error)

	// Dequeue removes and returns the earliest due trigger, blocking until
	// one is due or the context is cancelled.
	Dequeue(ctx context.Context) (*Trigger, error)

	// List returns the pending triggers of instanceID ordered by due time,
	// or all pending triggers when instanceID is empty.
	List(ctx context.Context, instanceID string) ([]Trigger, error)

	// Len returns the approximate number of pending triggers.
	Len() int
}

// Option configures a queue.
type Option func(*options)

type options struct {
	pollInterval time.Duration
	now          func() time.Time
}

func defaultOptions(opts []Option) options {
	o := options{pollInterval: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPollInterval sets how often Dequeue checks for due triggers.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock sets the clock used to decide whether a trigger is due.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// wait sleeps for one poll interval.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
