package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/contentflow/pkg/api"
)

// HandlerKey identifies a registered handler.
type HandlerKey struct {
	StepType api.StepType `json:"step_type"`
	Name     string       `json:"name"`
}

// Registry maps (step type, handler name) to handler factories. It is
// populated at startup and read synchronously by the dispatcher.
//
// A factory registered with an empty name is the default for its step type
// and serves bindings whose handler is unset or unknown.
type Registry struct {
	mu        sync.RWMutex
	factories map[HandlerKey]api.HandlerFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[HandlerKey]api.HandlerFactory),
	}
}

// Register adds a factory. Registering the same key twice is an error.
func (r *Registry) Register(stepType api.StepType, name string, factory api.HandlerFactory) error {
	if !stepType.Valid() {
		return fmt.Errorf("%w: unknown step type %q", api.ErrValidation, stepType)
	}
	if factory == nil {
		return fmt.Errorf("%w: handler factory for %s/%s is nil", api.ErrValidation, stepType, name)
	}

	key := HandlerKey{StepType: stepType, Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("handler %q for step type %q already registered", name, stepType)
	}
	r.factories[key] = factory
	return nil
}

// RegisterHandler registers a stateless handler value.
func (r *Registry) RegisterHandler(stepType api.StepType, name string, h api.Handler) error {
	return r.Register(stepType, name, func() api.Handler { return h })
}

// Resolve returns a handler for the binding's step type and handler name,
// falling back to the step type's default.
func (r *Registry) Resolve(stepType api.StepType, name string) (api.Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[HandlerKey{StepType: stepType, Name: name}]
	if !ok {
		factory, ok = r.factories[HandlerKey{StepType: stepType}]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler %q registered for step type %q", name, stepType)
	}
	return factory(), nil
}

// Keys returns the registered keys sorted by step type and name.
func (r *Registry) Keys() []HandlerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HandlerKey, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepType != out[j].StepType {
			return out[i].StepType < out[j].StepType
		}
		return out[i].Name < out[j].Name
	})
	return out
}
