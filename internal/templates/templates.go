// Package templates implements the template store: reusable, ordered step
// sequences that instances are built from.
package templates

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// Dependents keeps the instances built from a template in step with it.
// The instance service implements it.
type Dependents interface {
	// SyncTemplate resynchronizes every instance of tpl.
	SyncTemplate(ctx context.Context, tpl *api.Template) error

	// DeleteByTemplate unschedules and deletes every instance of the
	// template and returns how many were removed.
	DeleteByTemplate(ctx context.Context, templateID string) (int, error)
}

// Service implements the template operations. Structural changes are
// serialized so that dependent instances are resynchronized in the order
// the changes were stored.
type Service struct {
	mu         sync.Mutex
	store      persistence.TemplateStore
	dependents Dependents
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDependents sets the collaborator notified of structural changes.
func WithDependents(d Dependents) Option {
	return func(s *Service) { s.dependents = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a template Service.
func NewService(store persistence.TemplateStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new template. Steps without an ID get a
// generated one.
func (s *Service) Create(ctx context.Context, name string, steps []api.StepDefinition) (*api.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: template name is required", api.ErrValidation)
	}

	defs := make([]api.StepDefinition, len(steps))
	copy(defs, steps)
	for i := range defs {
		if defs[i].ID == "" {
			defs[i].ID = newStepID()
		}
	}
	if err := validateSteps(defs); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tpl := (&api.Template{
		ID:        uuid.NewString(),
		Name:      name,
		Steps:     defs,
		CreatedAt: now,
		UpdatedAt: now,
	}).Clone()

	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("Template created",
		log.TemplateID(tpl.ID),
		slog.String("name", tpl.Name),
		slog.Int("steps", len(tpl.Steps)),
	)
	return tpl, nil
}

// Get returns the template with the given id.
func (s *Service) Get(ctx context.Context, id string) (*api.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// List returns every template.
func (s *Service) List(ctx context.Context) ([]*api.Template, error) {
	return s.store.ListTemplates(ctx)
}

// Delete removes the template and every instance built from it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetTemplate(ctx, id); err != nil {
		return err
	}

	removed := 0
	if s.dependents != nil {
		n, err := s.dependents.DeleteByTemplate(ctx, id)
		if err != nil {
			return err
		}
		removed = n
	}

	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Template deleted",
		log.TemplateID(id),
		slog.Int("instances_removed", removed),
	)
	return nil
}

// AddStep inserts step at position, or appends it when position is
// negative or past the end.
func (s *Service) AddStep(ctx context.Context, templateID string, step api.StepDefinition, position int) (*api.Template, error) {
	if step.ID == "" {
		step.ID = newStepID()
	}

	return s.restructure(ctx, templateID, func(tpl *api.Template) error {
		if position < 0 || position > len(tpl.Steps) {
			position = len(tpl.Steps)
		}
		steps := make([]api.StepDefinition, 0, len(tpl.Steps)+1)
		steps = append(steps, tpl.Steps[:position]...)
		steps = append(steps, step)
		steps = append(steps, tpl.Steps[position:]...)
		if err := validateSteps(steps); err != nil {
			return err
		}
		tpl.Steps = steps
		return nil
	})
}

// RemoveStep deletes the step with the given id.
func (s *Service) RemoveStep(ctx context.Context, templateID, stepID string) (*api.Template, error) {
	return s.restructure(ctx, templateID, func(tpl *api.Template) error {
		idx := tpl.StepIndex(stepID)
		if idx < 0 {
			return fmt.Errorf("step %s of template %s %w", stepID, templateID, api.ErrNotFound)
		}
		tpl.Steps = append(tpl.Steps[:idx], tpl.Steps[idx+1:]...)
		return nil
	})
}

// ReorderSteps puts the steps in the given order. order must name every
// existing step exactly once.
func (s *Service) ReorderSteps(ctx context.Context, templateID string, order []string) (*api.Template, error) {
	return s.restructure(ctx, templateID, func(tpl *api.Template) error {
		if len(order) != len(tpl.Steps) {
			return fmt.Errorf("%w: got %d step ids, template has %d", api.ErrInvalidOrder, len(order), len(tpl.Steps))
		}
		steps := make([]api.StepDefinition, 0, len(order))
		used := make(map[string]bool, len(order))
		for _, id := range order {
			idx := tpl.StepIndex(id)
			if idx < 0 || used[id] {
				return fmt.Errorf("%w: unexpected or repeated step id %q", api.ErrInvalidOrder, id)
			}
			used[id] = true
			steps = append(steps, tpl.Steps[idx])
		}
		tpl.Steps = steps
		return nil
	})
}

// UpdateStepConfig replaces the static configuration of one step.
func (s *Service) UpdateStepConfig(ctx context.Context, templateID, stepID string, config map[string]any) (*api.Template, error) {
	now := s.now().UTC()
	return s.store.ModifyTemplate(ctx, templateID, func(tpl *api.Template) error {
		idx := tpl.StepIndex(stepID)
		if idx < 0 {
			return fmt.Errorf("step %s of template %s %w", stepID, templateID, api.ErrNotFound)
		}
		tpl.Steps[idx].Config = api.MergeSettings(nil, config)
		tpl.UpdatedAt = now
		return nil
	})
}

// restructure applies a structural change, stores the template and
// resynchronizes the dependent instances.
func (s *Service) restructure(ctx context.Context, templateID string, fn func(tpl *api.Template) error) (*api.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tpl, err := s.store.ModifyTemplate(ctx, templateID, func(tpl *api.Template) error {
		if err := fn(tpl); err != nil {
			return err
		}
		tpl.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.dependents != nil {
		if err := s.dependents.SyncTemplate(ctx, tpl); err != nil {
			return nil, fmt.Errorf("template %s saved but instance sync failed: %w", templateID, err)
		}
	}

	s.logger.Info("Template restructured",
		log.TemplateID(tpl.ID),
		slog.Int("steps", len(tpl.Steps)),
	)
	return tpl, nil
}

func validateSteps(steps []api.StepDefinition) error {
	seen := make(map[string]bool, len(steps))
	for i, st := range steps {
		if !st.Type.Valid() {
			return fmt.Errorf("%w: step %d has unknown type %q", api.ErrValidation, i, st.Type)
		}
		if strings.ContainsAny(st.ID, " \t\n") {
			return fmt.Errorf("%w: step id %q must not contain whitespace", api.ErrValidation, st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: duplicate step id %q", api.ErrValidation, st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}

func newStepID() string {
	return "step_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
