package templates

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
)

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newServices() (*Service, *instances.Service) {
	store := persistence.NewInMemoryStore()
	clock := func() time.Time { return fixedNow }
	inst := instances.NewService(store, store, instances.WithClock(clock))
	tpl := NewService(store, WithDependents(inst), WithClock(clock))
	return tpl, inst
}

func stepIDs(tpl *api.Template) []string {
	ids := make([]string, len(tpl.Steps))
	for i, s := range tpl.Steps {
		ids[i] = s.ID
	}
	return ids
}

func baseSteps() []api.StepDefinition {
	return []api.StepDefinition{
		{ID: "fetch", Type: api.StepTypeFetch},
		{ID: "write", Type: api.StepTypeAI, Config: map[string]any{"prompt": "summarize"}},
		{ID: "publish", Type: api.StepTypePublish},
	}
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog pipeline", []api.StepDefinition{
		{Type: api.StepTypeFetch},
		{ID: "write", Type: api.StepTypeAI},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.ID)
	assert.NotEmpty(t, tpl.Steps[0].ID)
	assert.Equal(t, "write", tpl.Steps[1].ID)

	got, err := svc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blog pipeline", got.Name)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()

	_, err := svc.Create(ctx, "", baseSteps())
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = svc.Create(ctx, "x", []api.StepDefinition{{ID: "a", Type: "teleport"}})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = svc.Create(ctx, "x", []api.StepDefinition{
		{ID: "a", Type: api.StepTypeFetch},
		{ID: "a", Type: api.StepTypeAI},
	})
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestStructuralChanges(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog", baseSteps())
	require.NoError(t, err)

	tpl, err = svc.AddStep(ctx, tpl.ID, api.StepDefinition{ID: "ping", Type: api.StepTypeAgentPing}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "ping", "write", "publish"}, stepIDs(tpl))

	tpl, err = svc.AddStep(ctx, tpl.ID, api.StepDefinition{ID: "update", Type: api.StepTypeUpdate}, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "ping", "write", "publish", "update"}, stepIDs(tpl))

	_, err = svc.AddStep(ctx, tpl.ID, api.StepDefinition{ID: "fetch", Type: api.StepTypeFetch}, 0)
	assert.ErrorIs(t, err, api.ErrValidation)

	tpl, err = svc.RemoveStep(ctx, tpl.ID, "update")
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "ping", "write", "publish"}, stepIDs(tpl))

	_, err = svc.RemoveStep(ctx, tpl.ID, "update")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = svc.ReorderSteps(ctx, tpl.ID, []string{"fetch", "write", "publish"})
	assert.ErrorIs(t, err, api.ErrInvalidOrder)
	_, err = svc.ReorderSteps(ctx, tpl.ID, []string{"fetch", "write", "write", "publish"})
	assert.ErrorIs(t, err, api.ErrInvalidOrder)
	_, err = svc.ReorderSteps(ctx, tpl.ID, []string{"fetch", "write", "other", "publish"})
	assert.ErrorIs(t, err, api.ErrInvalidOrder)

	tpl, err = svc.ReorderSteps(ctx, tpl.ID, []string{"write", "fetch", "publish", "ping"})
	require.NoError(t, err)
	assert.Equal(t, []string{"write", "fetch", "publish", "ping"}, stepIDs(tpl))

	stored, err := svc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, stepIDs(tpl), stepIDs(stored))
}

func TestStructuralChangeResyncsInstances(t *testing.T) {
	svc, inst := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog", baseSteps())
	require.NoError(t, err)
	created, err := inst.Create(ctx, instances.CreateParams{TemplateID: tpl.ID, Name: "daily"})
	require.NoError(t, err)

	_, err = svc.RemoveStep(ctx, tpl.ID, "publish")
	require.NoError(t, err)
	_, err = svc.ReorderSteps(ctx, tpl.ID, []string{"write", "fetch"})
	require.NoError(t, err)

	got, err := inst.Get(ctx, created.ID)
	require.NoError(t, err)
	steps := got.OrderedSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, api.StepRefID("write", created.ID), steps[0].StepRefID)
	assert.Equal(t, api.StepRefID("fetch", created.ID), steps[1].StepRefID)
}

func TestUpdateStepConfig(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog", baseSteps())
	require.NoError(t, err)

	tpl, err = svc.UpdateStepConfig(ctx, tpl.ID, "write", map[string]any{"prompt": "expand"})
	require.NoError(t, err)
	assert.Equal(t, "expand", tpl.Steps[1].StaticPrompt())

	_, err = svc.UpdateStepConfig(ctx, tpl.ID, "nope", nil)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestConcurrentAddStepKeepsEveryEdit(t *testing.T) {
	svc, inst := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog", baseSteps())
	require.NoError(t, err)
	created, err := inst.Create(ctx, instances.CreateParams{TemplateID: tpl.ID, Name: "daily"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddStep(ctx, tpl.ID, api.StepDefinition{ID: fmt.Sprintf("ping%d", i), Type: api.StepTypeAgentPing}, -1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 9)
	assert.True(t, fixedNow.Equal(got.UpdatedAt))

	synced, err := inst.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, synced.Steps, 9)
}

func TestDeleteCascades(t *testing.T) {
	svc, inst := newServices()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "Blog", baseSteps())
	require.NoError(t, err)
	created, err := inst.Create(ctx, instances.CreateParams{TemplateID: tpl.ID, Name: "daily"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, tpl.ID))

	_, err = svc.Get(ctx, tpl.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = inst.Get(ctx, created.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, tpl.ID), api.ErrNotFound)
}
