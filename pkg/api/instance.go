package api

import (
	"sort"
	"time"
)

// QueueItem is one pending prompt in a step's prompt queue.
type QueueItem struct {
	Prompt  string    `json:"prompt"`
	AddedAt time.Time `json:"added_at"`
}

// StepBinding is an instance's configuration of one template step.
type StepBinding struct {
	StepRefID      string         `json:"step_ref_id"`
	StepType       StepType       `json:"step_type"`
	SourceStepID   string         `json:"source_step_id"`
	Handler        string         `json:"handler,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	EnabledTools   []string       `json:"enabled_tools,omitempty"`
	ExecutionOrder int            `json:"execution_order"`
	Queue          []QueueItem    `json:"prompt_queue"`
	QueueEnabled   bool           `json:"queue_enabled"`
}

// Clone returns a copy that shares no slices or maps with b.
func (b StepBinding) Clone() StepBinding {
	b.Settings = cloneMap(b.Settings)
	b.EnabledTools = append([]string(nil), b.EnabledTools...)
	b.Queue = append([]QueueItem(nil), b.Queue...)
	return b
}

// StepRefID derives the binding key of a template step on an instance.
func StepRefID(sourceStepID, instanceID string) string {
	return sourceStepID + "_" + instanceID
}

// Instance is a configured, schedulable binding of a Template.
type Instance struct {
	ID         string                 `json:"id"`
	TemplateID string                 `json:"template_id"`
	Name       string                 `json:"name"`
	Steps      map[string]StepBinding `json:"step_bindings"`
	Schedule   Schedule               `json:"-"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OrderedSteps returns the bindings sorted by execution order.
func (i *Instance) OrderedSteps() []StepBinding {
	return orderBindings(i.Steps)
}

// Clone returns a copy that shares no mutable state with i.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Steps = cloneBindings(i.Steps)
	if i.LastRunAt != nil {
		t := *i.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

func orderBindings(steps map[string]StepBinding) []StepBinding {
	out := make([]StepBinding, 0, len(steps))
	for _, b := range steps {
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].ExecutionOrder < out[b].ExecutionOrder
	})
	return out
}

func cloneBindings(steps map[string]StepBinding) map[string]StepBinding {
	if steps == nil {
		return nil
	}
	out := make(map[string]StepBinding, len(steps))
	for k, b := range steps {
		out[k] = b.Clone()
	}
	return out
}
