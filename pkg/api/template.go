package api

import "time"

// StepType identifies what kind of work a step performs.
type StepType string

const (
	StepTypeFetch     StepType = "fetch"
	StepTypeAI        StepType = "ai"
	StepTypePublish   StepType = "publish"
	StepTypeUpdate    StepType = "update"
	StepTypeAgentPing StepType = "agent_ping"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeFetch, StepTypeAI, StepTypePublish, StepTypeUpdate, StepTypeAgentPing:
		return true
	}
	return false
}

// QueueCapable reports whether steps of this type consume prompts from
// their prompt queue.
func (t StepType) QueueCapable() bool {
	return t == StepTypeAI || t == StepTypeAgentPing
}

// StepDefinition is one step of a Template.
type StepDefinition struct {
	// ID is stable and opaque; instance bindings are derived from it.
	ID    string   `json:"id" yaml:"id"`
	Type  StepType `json:"type" yaml:"type"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty"`

	// Config is the per-type static configuration. The "prompt" key, when
	// present, is the default prompt of queue-capable steps.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// EnabledTools is inherited by instance bindings on synchronization.
	EnabledTools []string `json:"enabled_tools,omitempty" yaml:"enabled_tools,omitempty"`
}

// StaticPrompt returns the "prompt" value of the step's static config.
func (d StepDefinition) StaticPrompt() string {
	p, _ := d.Config["prompt"].(string)
	return p
}

// Template is a reusable ordered step sequence.
type Template struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Steps     []StepDefinition `json:"steps"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// StepTypes returns the ordered step types of the template.
func (t *Template) StepTypes() []StepType {
	out := make([]StepType, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.Type
	}
	return out
}

// StepIndex returns the position of the step with the given id, or -1.
func (t *Template) StepIndex(stepID string) int {
	for i, s := range t.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// Clone returns a deep enough copy for callers that mutate steps.
func (t *Template) Clone() *Template {
	c := *t
	c.Steps = make([]StepDefinition, len(t.Steps))
	for i, s := range t.Steps {
		s.Config = cloneMap(s.Config)
		s.EnabledTools = append([]string(nil), s.EnabledTools...)
		c.Steps[i] = s
	}
	return &c
}
