package api

import (
	"context"
)

// Outcome classifies a handler Result.
type Outcome int

const (
	// OutcomeItem continues the run with Result.Packet.
	OutcomeItem Outcome = iota
	// OutcomeNoItem ends the run as completed_no_items.
	OutcomeNoItem
	// OutcomeSkip ends the run as agent_skipped.
	OutcomeSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomeItem:
		return "item"
	case OutcomeNoItem:
		return "no_item"
	case OutcomeSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Result is what a handler returns for a successful invocation.
type Result struct {
	Outcome Outcome
	Packet  *DataPacket
	Reason  string
}

// Item continues the run with p.
func Item(p *DataPacket) Result {
	return Result{Outcome: OutcomeItem, Packet: p}
}

// NoItem reports that there is nothing to process this run.
func NoItem() Result {
	return Result{Outcome: OutcomeNoItem}
}

// Skip reports that the step decided not to process the item.
func Skip(reason string) Result {
	return Result{Outcome: OutcomeSkip, Reason: reason}
}

// RunContext identifies the run a step executes in.
type RunContext struct {
	RunID        string `json:"run_id"`
	InstanceID   string `json:"instance_id"`
	TemplateID   string `json:"template_id"`
	InstanceName string `json:"instance_name"`
	StepIndex    int    `json:"step_index"`
}

// StepRequest is the input of a single handler invocation.
type StepRequest struct {
	Run     RunContext
	Binding StepBinding

	// Input is the packet produced by the previous step; nil for the first.
	Input *DataPacket

	Settings map[string]any

	// Prompt is the effective prompt: a queued prompt when one was taken
	// for this run, otherwise the binding's static prompt.
	Prompt string

	// Processed reports whether itemID was already handled by this step.
	Processed func(ctx context.Context, itemID string) (bool, error)
}

// Handler executes one step.
type Handler interface {
	Execute(ctx context.Context, req StepRequest) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req StepRequest) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, req StepRequest) (Result, error) {
	return f(ctx, req)
}

// HandlerFactory builds a Handler. Factories are invoked once per step
// invocation so handlers may keep per-invocation state.
type HandlerFactory func() Handler
