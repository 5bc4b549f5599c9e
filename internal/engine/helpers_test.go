package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/internal/queue"
	"github.com/petrijr/contentflow/pkg/api"
)

var fixedNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

// recorder captures what each handler invocation received.
type recorder struct {
	mu       sync.Mutex
	prompts  map[api.StepType][]string
	requests []api.StepRequest
}

func newRecorder() *recorder {
	return &recorder{prompts: make(map[api.StepType][]string)}
}

func (r *recorder) record(req api.StepRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[req.Binding.StepType] = append(r.prompts[req.Binding.StepType], req.Prompt)
	r.requests = append(r.requests, req)
}

type harness struct {
	t       *testing.T
	store   persistence.Persistence
	queue   *queue.Service
	reg     *Registry
	eng     *engineImpl
	rec     *recorder
	metrics *api.BasicMetrics
}

func newHarness(t *testing.T, p persistence.Persistence) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		store:   p,
		queue:   queue.NewService(p.Instances, nil),
		reg:     NewRegistry(),
		rec:     newRecorder(),
		metrics: &api.BasicMetrics{},
	}
	h.eng = NewEngineWithConfig(Config{
		Persistence: p,
		Registry:    h.reg,
		Queue:       h.queue,
		Observer:    h.metrics,
		Clock:       func() time.Time { return fixedNow },
	}).(*engineImpl)

	// Default handlers: fetch emits a new item, ai writes a titled packet
	// from its prompt, publish passes the packet through.
	h.handle(api.StepTypeFetch, "", func(ctx context.Context, req api.StepRequest) (api.Result, error) {
		id, _ := req.Settings["item_id"].(string)
		if id == "" {
			return api.NoItem(), nil
		}
		done, err := req.Processed(ctx, id)
		if err != nil {
			return api.Result{}, err
		}
		if done {
			return api.NoItem(), nil
		}
		p, err := api.NewPacket("rss_item", map[string]string{"link": "https://example.com/" + id})
		if err != nil {
			return api.Result{}, err
		}
		p.ItemID = id
		return api.Item(p), nil
	})
	h.handle(api.StepTypeAI, "", func(ctx context.Context, req api.StepRequest) (api.Result, error) {
		p, err := api.NewPacket("ai_response", map[string]string{"title": req.Prompt, "url": "https://blog.example/post"})
		if err != nil {
			return api.Result{}, err
		}
		return api.Item(p), nil
	})
	h.handle(api.StepTypePublish, "", func(ctx context.Context, req api.StepRequest) (api.Result, error) {
		return api.Item(req.Input), nil
	})
	return h
}

func newMemoryHarness(t *testing.T) *harness {
	return newHarness(t, persistence.NewInMemoryPersistence())
}

// handle registers fn for a step type and records every request it gets.
func (h *harness) handle(typ api.StepType, name string, fn api.HandlerFunc) {
	h.t.Helper()
	wrapped := api.HandlerFunc(func(ctx context.Context, req api.StepRequest) (api.Result, error) {
		h.rec.record(req)
		return fn(ctx, req)
	})
	require.NoError(h.t, h.reg.RegisterHandler(typ, name, wrapped))
}

// replace swaps the default handler of typ.
func (h *harness) replace(typ api.StepType, fn api.HandlerFunc) {
	h.t.Helper()
	h.reg.mu.Lock()
	delete(h.reg.factories, HandlerKey{StepType: typ})
	h.reg.mu.Unlock()
	h.handle(typ, "", fn)
}

// seed stores a template with the given step types and an instance of it.
// The ai step has static prompt "static prompt".
func (h *harness) seed(id string, types ...api.StepType) *api.Instance {
	h.t.Helper()
	ctx := context.Background()

	tpl := &api.Template{ID: "tpl-" + id, Name: "Template " + id, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	inst := &api.Instance{
		ID:         id,
		TemplateID: tpl.ID,
		Name:       "Instance " + id,
		Schedule:   api.ScheduleManual{},
		Steps:      map[string]api.StepBinding{},
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	}
	for i, typ := range types {
		def := api.StepDefinition{ID: string(typ), Type: typ}
		if typ == api.StepTypeAI {
			def.Config = map[string]any{"prompt": "static prompt"}
		}
		tpl.Steps = append(tpl.Steps, def)

		ref := api.StepRefID(def.ID, id)
		inst.Steps[ref] = api.StepBinding{
			StepRefID:      ref,
			StepType:       typ,
			SourceStepID:   def.ID,
			ExecutionOrder: i + 1,
			QueueEnabled:   typ.QueueCapable(),
		}
	}
	require.NoError(h.t, h.store.Templates.SaveTemplate(ctx, tpl))
	require.NoError(h.t, h.store.Instances.SaveInstance(ctx, inst))
	return inst
}

// setStep edits one binding of a seeded instance.
func (h *harness) setStep(instanceID string, typ api.StepType, fn func(b *api.StepBinding)) {
	h.t.Helper()
	_, err := h.store.Instances.ModifyInstance(context.Background(), instanceID, func(inst *api.Instance) error {
		ref := api.StepRefID(string(typ), instanceID)
		b := inst.Steps[ref]
		fn(&b)
		inst.Steps[ref] = b
		return nil
	})
	require.NoError(h.t, err)
}

func (h *harness) run(instanceID string) *api.Run {
	h.t.Helper()
	run, err := h.eng.RunInstance(context.Background(), instanceID)
	require.NoError(h.t, err)
	return run
}
