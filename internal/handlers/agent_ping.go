// Package handlers contains the built-in step handlers.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petrijr/contentflow/internal/engine"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// SettingWebhookURL is the step setting naming the agent_ping target.
const SettingWebhookURL = "webhook_url"

// DefaultWebhookTimeout bounds a single agent_ping call.
const DefaultWebhookTimeout = 10 * time.Second

var (
	ErrNoWebhookURL = errors.New("agent_ping has no webhook URL")
	ErrWebhookHTTP  = errors.New("webhook returned HTTP error")
)

type (
	// AgentPing notifies an external agent over HTTP. The call is fire and
	// forget: the response is not interpreted and a failed call never
	// fails the run. The input packet is passed through unchanged.
	AgentPing struct {
		client     *http.Client
		defaultURL string
		logger     *slog.Logger
	}

	// PingRequest is the body POSTed to the webhook.
	PingRequest struct {
		Prompt     string         `json:"prompt"`
		RunContext PingRunContext `json:"run_context"`
	}

	PingRunContext struct {
		api.RunContext
		StepRefID string          `json:"step_ref_id"`
		Input     *api.DataPacket `json:"input,omitempty"`
	}
)

var _ api.Handler = (*AgentPing)(nil)

// NewAgentPing returns an AgentPing posting to the step's webhook_url
// setting, or to defaultURL when the step has none.
func NewAgentPing(timeout time.Duration, defaultURL string, logger *slog.Logger) *AgentPing {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentPing{
		client:     &http.Client{Timeout: timeout},
		defaultURL: defaultURL,
		logger:     logger,
	}
}

func (p *AgentPing) Execute(ctx context.Context, req api.StepRequest) (api.Result, error) {
	if err := p.ping(ctx, req); err != nil {
		p.logger.Warn("Agent ping failed",
			log.RunID(req.Run.RunID),
			log.StepRef(req.Binding.StepRefID),
			log.Error(err),
		)
	}

	if req.Input != nil {
		return api.Item(req.Input), nil
	}
	out, err := api.NewPacket("agent_ping", map[string]string{"prompt": req.Prompt})
	if err != nil {
		return api.Result{}, err
	}
	return api.Item(out), nil
}

func (p *AgentPing) ping(ctx context.Context, req api.StepRequest) error {
	url := p.defaultURL
	if s, ok := req.Settings[SettingWebhookURL].(string); ok && s != "" {
		url = s
	}
	if url == "" {
		return ErrNoWebhookURL
	}

	body, err := json.Marshal(PingRequest{
		Prompt: req.Prompt,
		RunContext: PingRunContext{
			RunContext: req.Run,
			StepRefID:  req.Binding.StepRefID,
			Input:      req.Input,
		},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "contentflow/1.0")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrWebhookHTTP, resp.StatusCode)
	}

	p.logger.Debug("Agent pinged",
		log.RunID(req.Run.RunID),
		log.StepRef(req.Binding.StepRefID),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Config configures the built-in handlers.
type Config struct {
	WebhookTimeout time.Duration
	WebhookURL     string
	Logger         *slog.Logger
}

// RegisterBuiltins registers the built-in handlers as the defaults of
// their step types.
func RegisterBuiltins(reg *engine.Registry, cfg Config) error {
	ping := NewAgentPing(cfg.WebhookTimeout, cfg.WebhookURL, cfg.Logger)
	return reg.RegisterHandler(api.StepTypeAgentPing, "", ping)
}
