package instances

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
)

type fakeScheduler struct {
	applied []string
	cleared []string
	reject  error
}

func (f *fakeScheduler) Validate(s api.Schedule) error {
	if iv, ok := s.(api.ScheduleInterval); ok && iv.Interval == "fortnightly" {
		return fmt.Errorf("%w: unknown interval", api.ErrValidation)
	}
	return f.reject
}

func (f *fakeScheduler) Apply(ctx context.Context, inst *api.Instance) error {
	f.applied = append(f.applied, inst.ID)
	return nil
}

func (f *fakeScheduler) Clear(ctx context.Context, instanceID string) error {
	f.cleared = append(f.cleared, instanceID)
	return nil
}

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *persistence.InMemoryStore
	sched *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := persistence.NewInMemoryStore()
	sched := &fakeScheduler{}
	svc := NewService(store, store,
		WithScheduler(sched),
		WithClock(func() time.Time { return fixedNow }),
	)
	return &fixture{svc: svc, store: store, sched: sched}
}

func (f *fixture) template(t *testing.T, id string, types ...api.StepType) *api.Template {
	t.Helper()
	tpl := &api.Template{ID: id, Name: id, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	for i, typ := range types {
		tpl.Steps = append(tpl.Steps, api.StepDefinition{
			ID:           fmt.Sprintf("%s%d", typ, i+1),
			Type:         typ,
			EnabledTools: []string{"search"},
		})
	}
	require.NoError(t, f.store.SaveTemplate(context.Background(), tpl))
	return tpl
}

func TestCreate_SynchronizesBindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "blog", api.StepTypeFetch, api.StepTypeAI, api.StepTypePublish)

	disabled := false
	inst, err := f.svc.Create(ctx, CreateParams{
		TemplateID: tpl.ID,
		Name:       "  Daily blog ",
		Schedule:   api.ScheduleInterval{Interval: "daily"},
		StepConfigs: map[string]StepConfig{
			"ai2": {Handler: "openai", Prompt: "write", QueueEnabled: &disabled},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Daily blog", inst.Name)
	assert.Equal(t, []string{inst.ID}, f.sched.applied)

	steps := inst.OrderedSteps()
	require.Len(t, steps, 3)
	for i, b := range steps {
		assert.Equal(t, i+1, b.ExecutionOrder)
		assert.Equal(t, api.StepRefID(tpl.Steps[i].ID, inst.ID), b.StepRefID)
		assert.Equal(t, tpl.Steps[i].Type, b.StepType)
		assert.Equal(t, []string{"search"}, b.EnabledTools)
	}
	assert.Empty(t, steps[0].Handler)
	assert.Equal(t, "openai", steps[1].Handler)
	assert.Equal(t, "write", steps[1].Prompt)
	assert.False(t, steps[1].QueueEnabled)
	assert.False(t, steps[0].QueueEnabled)

	stored, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ScheduleInterval{Interval: "daily"}, stored.Schedule)
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "blog", api.StepTypeFetch)

	_, err := f.svc.Create(ctx, CreateParams{TemplateID: "missing", Name: "x"})
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = f.svc.Create(ctx, CreateParams{TemplateID: tpl.ID, Name: " "})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = f.svc.Create(ctx, CreateParams{
		TemplateID: tpl.ID, Name: "x", Schedule: api.ScheduleInterval{Interval: "fortnightly"},
	})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = f.svc.Create(ctx, CreateParams{
		TemplateID: tpl.ID, Name: "x", StepConfigs: map[string]StepConfig{"nope": {}},
	})
	assert.ErrorIs(t, err, api.ErrValidation)

	list, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDuplicate_IncompatibleTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.template(t, "three", api.StepTypeFetch, api.StepTypeAI, api.StepTypePublish)
	f.template(t, "two", api.StepTypeFetch, api.StepTypePublish)

	inst, err := f.svc.Create(ctx, CreateParams{TemplateID: src.ID, Name: "source"})
	require.NoError(t, err)

	_, err = f.svc.Duplicate(ctx, inst.ID, DuplicateParams{TargetTemplateID: "two"})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrIncompatibleStructure)

	var incompatible *api.IncompatibleStructureError
	require.True(t, errors.As(err, &incompatible))
	assert.Equal(t, []api.StepType{api.StepTypeFetch, api.StepTypeAI, api.StepTypePublish}, incompatible.Source)
	assert.Equal(t, []api.StepType{api.StepTypeFetch, api.StepTypePublish}, incompatible.Target)
}

func TestDuplicate_CrossTemplateWithOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.template(t, "a", api.StepTypeFetch, api.StepTypeAI, api.StepTypePublish)
	dst := &api.Template{ID: "b", Name: "b", Steps: []api.StepDefinition{
		{ID: "src", Type: api.StepTypeFetch},
		{ID: "gen", Type: api.StepTypeAI},
		{ID: "out", Type: api.StepTypePublish},
	}}
	require.NoError(t, f.store.SaveTemplate(ctx, dst))

	at := fixedNow.Add(time.Hour)
	inst, err := f.svc.Create(ctx, CreateParams{
		TemplateID: src.ID,
		Name:       "source",
		Schedule:   api.ScheduleOneTime{At: at},
		StepConfigs: map[string]StepConfig{
			"fetch1":   {Handler: "rss", Settings: map[string]any{"url": "https://a.example/feed"}},
			"ai2":      {Handler: "openai", Prompt: "summarize"},
			"publish3": {Handler: "wordpress"},
		},
	})
	require.NoError(t, err)

	// Queues are not carried over.
	_, err = f.store.ModifyInstance(ctx, inst.ID, func(in *api.Instance) error {
		b := in.Steps[api.StepRefID("ai2", inst.ID)]
		b.Queue = []api.QueueItem{{Prompt: "pending"}}
		in.Steps[b.StepRefID] = b
		return nil
	})
	require.NoError(t, err)

	handler := "anthropic"
	prompt := "rewrite"
	other := "ghost"
	dup, err := f.svc.Duplicate(ctx, inst.ID, DuplicateParams{
		TargetTemplateID: "b",
		Overrides: map[string]StepOverride{
			"ai": {Handler: &handler, Prompt: &prompt},
			"2":  {Handler: &other},
			"3":  {Handler: &other},
		},
	})
	require.NoError(t, err)

	assert.NotEqual(t, inst.ID, dup.ID)
	assert.Equal(t, "b", dup.TemplateID)
	assert.Equal(t, "source (copy)", dup.Name)
	assert.Equal(t, api.ScheduleManual{}, dup.Schedule)

	steps := dup.OrderedSteps()
	require.Len(t, steps, 3)
	assert.Equal(t, api.StepRefID("src", dup.ID), steps[0].StepRefID)
	assert.Equal(t, "rss", steps[0].Handler)
	assert.Equal(t, "https://a.example/feed", steps[0].Settings["url"])
	assert.Equal(t, "anthropic", steps[1].Handler, "step type key wins over order key")
	assert.Equal(t, "rewrite", steps[1].Prompt)
	assert.Empty(t, steps[1].Queue)
	assert.Equal(t, "ghost", steps[2].Handler)
}

func TestDuplicate_KeepsIntervalSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "a", api.StepTypeFetch)

	inst, err := f.svc.Create(ctx, CreateParams{
		TemplateID: tpl.ID, Name: "hourly", Schedule: api.ScheduleInterval{Interval: "hourly"},
	})
	require.NoError(t, err)

	dup, err := f.svc.Duplicate(ctx, inst.ID, DuplicateParams{Name: "copy"})
	require.NoError(t, err)
	assert.Equal(t, "copy", dup.Name)
	assert.Equal(t, api.ScheduleInterval{Interval: "hourly"}, dup.Schedule)
	assert.Equal(t, []string{inst.ID, dup.ID}, f.sched.applied)

	cron, err := f.svc.Create(ctx, CreateParams{
		TemplateID: tpl.ID, Name: "cron", Schedule: api.ScheduleCron{Expression: "0 9 * * *"},
	})
	require.NoError(t, err)
	dup, err = f.svc.Duplicate(ctx, cron.ID, DuplicateParams{})
	require.NoError(t, err)
	assert.Equal(t, api.ScheduleManual{}, dup.Schedule)
}

func TestUpdateSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "a", api.StepTypeFetch)
	inst, err := f.svc.Create(ctx, CreateParams{TemplateID: tpl.ID, Name: "x"})
	require.NoError(t, err)

	_, err = f.svc.UpdateSchedule(ctx, inst.ID, api.ScheduleInterval{Interval: "fortnightly"})
	assert.ErrorIs(t, err, api.ErrValidation)
	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ScheduleManual{}, got.Schedule, "rejected schedule must not be stored")

	updated, err := f.svc.UpdateSchedule(ctx, inst.ID, api.ScheduleCron{Expression: "*/5 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, api.ScheduleCron{Expression: "*/5 * * * *"}, updated.Schedule)
	assert.Equal(t, []string{inst.ID, inst.ID}, f.sched.applied)

	_, err = f.svc.UpdateSchedule(ctx, "missing", api.ScheduleManual{})
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestUpdateStepAndRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "a", api.StepTypeFetch, api.StepTypeAI)
	inst, err := f.svc.Create(ctx, CreateParams{TemplateID: tpl.ID, Name: "x"})
	require.NoError(t, err)

	ref := api.StepRefID("ai2", inst.ID)
	handler := "openai"
	prompt := "new prompt"
	updated, err := f.svc.UpdateStep(ctx, inst.ID, ref, StepUpdate{
		Handler:  &handler,
		Prompt:   &prompt,
		Settings: map[string]any{"model": "large"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", updated.Steps[ref].Handler)
	assert.Equal(t, "new prompt", updated.Steps[ref].Prompt)
	assert.Equal(t, "large", updated.Steps[ref].Settings["model"])

	_, err = f.svc.UpdateStep(ctx, inst.ID, "nope", StepUpdate{})
	assert.ErrorIs(t, err, api.ErrNotFound)

	renamed, err := f.svc.Rename(ctx, inst.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Name)
	assert.Equal(t, "openai", renamed.Steps[ref].Handler)
}

func TestDeleteAndSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "a", api.StepTypeFetch, api.StepTypeAI)

	first, err := f.svc.Create(ctx, CreateParams{
		TemplateID:  tpl.ID,
		Name:        "first",
		StepConfigs: map[string]StepConfig{"ai2": {Handler: "openai"}},
	})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, CreateParams{TemplateID: tpl.ID, Name: "second"})
	require.NoError(t, err)

	// Reorder, drop fetch, add publish.
	tpl.Steps = []api.StepDefinition{
		{ID: "ai2", Type: api.StepTypeAI},
		{ID: "pub", Type: api.StepTypePublish},
	}
	require.NoError(t, f.svc.SyncTemplate(ctx, tpl))

	got, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	steps := got.OrderedSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, api.StepRefID("ai2", first.ID), steps[0].StepRefID)
	assert.Equal(t, 1, steps[0].ExecutionOrder)
	assert.Equal(t, "openai", steps[0].Handler)
	assert.Equal(t, api.StepRefID("pub", first.ID), steps[1].StepRefID)

	require.NoError(t, f.svc.Delete(ctx, second.ID))
	assert.Equal(t, []string{second.ID}, f.sched.cleared)
	_, err = f.svc.Get(ctx, second.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, second.ID), api.ErrNotFound)

	n, err := f.svc.DeleteByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDuplicate_RejectsUnknownOverrideKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "a", api.StepTypeFetch, api.StepTypeAI)
	inst, err := f.svc.Create(ctx, CreateParams{TemplateID: tpl.ID, Name: "src"})
	require.NoError(t, err)

	handler := "openai"
	for _, key := range []string{"0", "3", "-1", "summarizer"} {
		t.Run(key, func(t *testing.T) {
			_, err := f.svc.Duplicate(ctx, inst.ID, DuplicateParams{
				Overrides: map[string]StepOverride{key: {Handler: &handler}},
			})
			assert.ErrorIs(t, err, api.ErrValidation)
		})
	}

	dup, err := f.svc.Duplicate(ctx, inst.ID, DuplicateParams{
		Overrides: map[string]StepOverride{"1": {Handler: &handler}},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", dup.OrderedSteps()[0].Handler)

	list, err := f.svc.List(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2, "rejected duplicates are not stored")
}
