package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/engine"
	"github.com/petrijr/contentflow/pkg/api"
)

func pingRequest(url string, input *api.DataPacket) api.StepRequest {
	settings := map[string]any{}
	if url != "" {
		settings[SettingWebhookURL] = url
	}
	return api.StepRequest{
		Run: api.RunContext{
			RunID:        "run-1",
			InstanceID:   "inst-1",
			TemplateID:   "tpl-1",
			InstanceName: "Daily digest",
			StepIndex:    1,
		},
		Binding:  api.StepBinding{StepRefID: "ping_inst-1", StepType: api.StepTypeAgentPing},
		Input:    input,
		Settings: settings,
		Prompt:   "summarize today's feed",
	}
}

func TestAgentPing_PostsPromptAndRunContext(t *testing.T) {
	got := make(chan PingRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body PingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	input, err := api.NewPacket("rss_item", map[string]string{"title": "News"})
	require.NoError(t, err)

	h := NewAgentPing(time.Second, "", nil)
	res, err := h.Execute(context.Background(), pingRequest(srv.URL, input))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeItem, res.Outcome)
	assert.Same(t, input, res.Packet)

	body := <-got
	assert.Equal(t, "summarize today's feed", body.Prompt)
	assert.Equal(t, "run-1", body.RunContext.RunID)
	assert.Equal(t, "Daily digest", body.RunContext.InstanceName)
	assert.Equal(t, "ping_inst-1", body.RunContext.StepRefID)
	require.NotNil(t, body.RunContext.Input)
	assert.Equal(t, "News", body.RunContext.Input.Title())
}

func TestAgentPing_FailuresDoNotFailTheStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		h    *AgentPing
		url  string
	}{
		{"server error", NewAgentPing(time.Second, "", nil), srv.URL},
		{"no url", NewAgentPing(time.Second, "", nil), ""},
		{"unreachable", NewAgentPing(100*time.Millisecond, "", nil), "http://127.0.0.1:1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.h.Execute(context.Background(), pingRequest(tc.url, nil))
			require.NoError(t, err)
			assert.Equal(t, api.OutcomeItem, res.Outcome)
			require.NotNil(t, res.Packet)
			assert.Equal(t, "summarize today's feed", res.Packet.Get("prompt").String())
		})
	}
}

func TestAgentPing_DefaultURL(t *testing.T) {
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	h := NewAgentPing(time.Second, srv.URL, nil)
	_, err := h.Execute(context.Background(), pingRequest("", nil))
	require.NoError(t, err)

	select {
	case <-hits:
	default:
		t.Fatal("default webhook was not called")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := engine.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Config{}))

	h, err := reg.Resolve(api.StepTypeAgentPing, "custom")
	require.NoError(t, err)
	assert.IsType(t, &AgentPing{}, h)
}
