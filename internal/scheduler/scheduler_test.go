package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/internal/taskqueue"
	"github.com/petrijr/contentflow/pkg/api"
)

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, opts ...Option) (*Adapter, *taskqueue.InMemoryQueue, *persistence.InMemoryStore) {
	t.Helper()
	q := taskqueue.NewInMemoryQueue()
	store := persistence.NewInMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewAdapter(q, store, opts...), q, store
}

func instance(id string, s api.Schedule) *api.Instance {
	return &api.Instance{ID: id, TemplateID: "tpl", Name: id, Schedule: s, Steps: map[string]api.StepBinding{}}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		schedule api.Schedule
		want     *taskqueue.Trigger
	}{
		{
			name:     "manual registers nothing",
			schedule: api.ScheduleManual{},
		},
		{
			name:     "interval",
			schedule: api.ScheduleInterval{Interval: "hourly"},
			want: &taskqueue.Trigger{
				Kind:      taskqueue.KindRecurring,
				Period:    time.Hour,
				NextRunAt: fixedNow.Add(time.Hour),
			},
		},
		{
			name:     "cron",
			schedule: api.ScheduleCron{Expression: "0 6 * * *"},
			want: &taskqueue.Trigger{
				Kind:      taskqueue.KindCron,
				Cron:      "0 6 * * *",
				NextRunAt: time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC),
			},
		},
		{
			name:     "future one-time",
			schedule: api.ScheduleOneTime{At: fixedNow.Add(48 * time.Hour)},
			want: &taskqueue.Trigger{
				Kind:      taskqueue.KindOnce,
				NextRunAt: fixedNow.Add(48 * time.Hour),
			},
		},
		{
			name:     "expired one-time is skipped",
			schedule: api.ScheduleOneTime{At: fixedNow.Add(-time.Minute)},
		},
		{
			name:     "one-time at now is skipped",
			schedule: api.ScheduleOneTime{At: fixedNow},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, q, _ := newAdapter(t)
			ctx := context.Background()

			require.NoError(t, a.Apply(ctx, instance("i1", tc.schedule)))

			list, err := q.List(ctx, "i1")
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, list)
				return
			}
			require.Len(t, list, 1)
			got := list[0]
			assert.Equal(t, taskqueue.HookRunInstance, got.Hook)
			assert.Equal(t, tc.want.Kind, got.Kind)
			assert.Equal(t, tc.want.Period, got.Period)
			assert.Equal(t, tc.want.Cron, got.Cron)
			assert.True(t, tc.want.NextRunAt.Equal(got.NextRunAt), "next run %s", got.NextRunAt)
		})
	}
}

func TestApply_IdempotentReschedule(t *testing.T) {
	a, q, _ := newAdapter(t)
	ctx := context.Background()
	inst := instance("i1", api.ScheduleInterval{Interval: "daily"})

	require.NoError(t, a.Apply(ctx, inst))
	require.NoError(t, a.Apply(ctx, inst))
	assert.Equal(t, 1, q.Len())

	inst.Schedule = api.ScheduleManual{}
	require.NoError(t, a.Apply(ctx, inst))
	assert.Equal(t, 0, q.Len())
}

func TestValidate(t *testing.T) {
	a, _, _ := newAdapter(t, WithIntervals(map[string]time.Duration{"fortnightly": 14 * 24 * time.Hour}))

	assert.NoError(t, a.Validate(api.ScheduleManual{}))
	assert.NoError(t, a.Validate(api.ScheduleInterval{Interval: "every_5_minutes"}))
	assert.NoError(t, a.Validate(api.ScheduleInterval{Interval: "fortnightly"}))
	assert.NoError(t, a.Validate(api.ScheduleCron{Expression: "@weekly"}))
	assert.NoError(t, a.Validate(api.ScheduleOneTime{At: fixedNow}))

	assert.ErrorIs(t, a.Validate(api.ScheduleInterval{Interval: "monthly"}), api.ErrValidation)
	assert.ErrorIs(t, a.Validate(api.ScheduleCron{Expression: "61 * * * *"}), api.ErrValidation)
	assert.ErrorIs(t, a.Validate(api.ScheduleOneTime{}), api.ErrValidation)

	// Invalid schedules never reach the queue.
	assert.ErrorIs(t, a.Apply(context.Background(), instance("x", api.ScheduleInterval{Interval: "monthly"})), api.ErrValidation)
}

func TestReconcile(t *testing.T) {
	a, q, store := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInstance(ctx, instance("manual", api.ScheduleManual{})))
	require.NoError(t, store.SaveInstance(ctx, instance("hourly", api.ScheduleInterval{Interval: "hourly"})))
	require.NoError(t, store.SaveInstance(ctx, instance("cron", api.ScheduleCron{Expression: "*/15 * * * *"})))
	require.NoError(t, store.SaveInstance(ctx, instance("broken", api.ScheduleInterval{Interval: "gone"})))

	// A stale trigger from before the restart is replaced.
	require.NoError(t, q.Schedule(ctx, taskqueue.Trigger{
		Hook:       taskqueue.HookRunInstance,
		InstanceID: "hourly",
		Kind:       taskqueue.KindOnce,
		NextRunAt:  fixedNow.Add(time.Minute),
	}))

	applied, err := a.Reconcile(ctx)
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, q.Len())

	next, err := a.NextRun(ctx, "hourly")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, fixedNow.Add(time.Hour).Equal(*next))

	next, err = a.NextRun(ctx, "manual")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestClear(t *testing.T) {
	a, q, _ := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, instance("a", api.ScheduleInterval{Interval: "hourly"})))
	require.NoError(t, a.Apply(ctx, instance("b", api.ScheduleInterval{Interval: "hourly"})))
	require.NoError(t, a.Clear(ctx, "a"))

	list, err := q.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].InstanceID)
}

func TestReschedule(t *testing.T) {
	fired := taskqueue.Trigger{
		Hook:       taskqueue.HookRunInstance,
		InstanceID: "i1",
		Kind:       taskqueue.KindCron,
		Cron:       "0 6 * * *",
		NextRunAt:  fixedNow.Add(-time.Hour),
	}

	tests := []struct {
		name     string
		stored   *api.Instance
		pending  bool
		manual   bool
		wantNext *time.Time
	}{
		{
			name:     "matching schedule",
			stored:   instance("i1", api.ScheduleCron{Expression: "0 6 * * *"}),
			wantNext: ptr(time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC)),
		},
		{
			name:   "cron expression changed",
			stored: instance("i1", api.ScheduleCron{Expression: "0 7 * * *"}),
		},
		{
			name:   "switched to manual",
			stored: instance("i1", api.ScheduleManual{}),
		},
		{
			name: "instance deleted",
		},
		{
			name:     "schedule re-applied after the claim",
			stored:   instance("i1", api.ScheduleCron{Expression: "0 6 * * *"}),
			pending:  true,
			wantNext: ptr(time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC)),
		},
		{
			name:     "queued manual run does not block",
			stored:   instance("i1", api.ScheduleCron{Expression: "0 6 * * *"}),
			manual:   true,
			wantNext: ptr(time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC)),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, q, store := newAdapter(t)
			ctx := context.Background()
			if tc.stored != nil {
				require.NoError(t, store.SaveInstance(ctx, tc.stored))
			}
			if tc.pending {
				require.NoError(t, a.Apply(ctx, tc.stored))
			}
			if tc.manual {
				require.NoError(t, q.Schedule(ctx, taskqueue.Trigger{
					Hook:       taskqueue.HookManualRun,
					InstanceID: "i1",
					Kind:       taskqueue.KindOnce,
					NextRunAt:  fixedNow,
				}))
			}

			require.NoError(t, a.Reschedule(ctx, fired))

			next, err := a.NextRun(ctx, "i1")
			require.NoError(t, err)
			if tc.wantNext == nil {
				assert.Nil(t, next)
				return
			}
			require.NotNil(t, next)
			assert.True(t, tc.wantNext.Equal(*next), "next run %s", next)

			list, err := q.List(ctx, "i1")
			require.NoError(t, err)
			schedules := 0
			for _, tr := range list {
				if tr.Hook == taskqueue.HookRunInstance {
					schedules++
				}
			}
			assert.Equal(t, 1, schedules)
		})
	}
}

func TestReschedule_IgnoresManualRuns(t *testing.T) {
	a, q, store := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, store.SaveInstance(ctx, instance("i1", api.ScheduleInterval{Interval: "hourly"})))

	require.NoError(t, a.Reschedule(ctx, taskqueue.Trigger{
		Hook:       taskqueue.HookManualRun,
		InstanceID: "i1",
		Kind:       taskqueue.KindOnce,
		NextRunAt:  fixedNow,
	}))
	assert.Equal(t, 0, q.Len())
}

func ptr[T any](v T) *T { return &v }
