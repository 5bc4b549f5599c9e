package api

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunPending          RunStatus = "pending"
	RunRunning          RunStatus = "running"
	RunCompleted        RunStatus = "completed"
	RunCompletedNoItems RunStatus = "completed_no_items"
	RunFailed           RunStatus = "failed"
	RunAgentSkipped     RunStatus = "agent_skipped"
)

// DirectID marks the instance and template of a run executed from a
// transient snapshot.
const DirectID = "direct"

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedNoItems, RunFailed, RunAgentSkipped:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	return s == RunPending || s == RunRunning || s.Terminal()
}

// Snapshot holds everything needed to execute a run without re-reading
// the instance it was created from.
type Snapshot struct {
	InstanceName string                 `json:"instance_name"`
	TemplateName string                 `json:"template_name"`
	Steps        map[string]StepBinding `json:"steps"`
}

// OrderedSteps returns the snapshot bindings sorted by execution order.
func (s *Snapshot) OrderedSteps() []StepBinding {
	return orderBindings(s.Steps)
}

// Clone returns a copy that shares no mutable state with s.
func (s Snapshot) Clone() Snapshot {
	s.Steps = cloneBindings(s.Steps)
	return s
}

// Run is one execution attempt of an instance.
type Run struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	TemplateID  string     `json:"template_id"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CurrentStep is the index into the ordered steps of the step being
	// executed, or of the step that ended the run.
	CurrentStep int    `json:"current_step"`
	Error       string `json:"error,omitempty"`
	SkipReason  string `json:"skip_reason,omitempty"`

	// ConsumedPrompts maps step_ref_id to the prompt taken from that step's
	// queue during this run.
	ConsumedPrompts map[string]string `json:"consumed_prompts,omitempty"`

	Output   *DataPacket `json:"output,omitempty"`
	Snapshot Snapshot    `json:"engine_snapshot"`
}

// Direct reports whether the run executes from a transient snapshot.
func (r *Run) Direct() bool {
	return r.InstanceID == DirectID
}

// Clone returns a copy that shares no mutable state with r.
func (r *Run) Clone() *Run {
	c := *r
	c.Snapshot = r.Snapshot.Clone()
	if r.ConsumedPrompts != nil {
		c.ConsumedPrompts = make(map[string]string, len(r.ConsumedPrompts))
		for k, v := range r.ConsumedPrompts {
			c.ConsumedPrompts[k] = v
		}
	}
	if r.Output != nil {
		c.Output = r.Output.Clone()
	}
	return &c
}
