package contentflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/pkg/api"
)

// titleHandler turns the effective prompt into a packet titled after it.
var titleHandler = HandlerFunc(func(ctx context.Context, req StepRequest) (Result, error) {
	out, err := NewPacket("article", map[string]string{"title": req.Prompt})
	if err != nil {
		return Result{}, err
	}
	return Item(out), nil
})

// seedPipeline registers the test handler and creates a one-step AI
// template with an instance of it. It returns the instance and the
// step_ref_id of its AI step.
func seedPipeline(t *testing.T, sys *System, schedule Schedule) (*Instance, string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, sys.Registry.RegisterHandler(StepTypeAI, "", titleHandler))

	tpl, err := sys.Templates.Create(ctx, "Blog", []StepDefinition{
		{ID: "write", Type: StepTypeAI, Config: map[string]any{"prompt": "fallback topic"}},
	})
	require.NoError(t, err)

	inst, err := sys.Instances.Create(ctx, instances.CreateParams{
		TemplateID: tpl.ID,
		Name:       "Daily blog",
		Schedule:   schedule,
	})
	require.NoError(t, err)
	return inst, api.StepRefID("write", inst.ID)
}
