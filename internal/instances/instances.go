// Package instances implements the instance store: configured, schedulable
// bindings of a template.
package instances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// Scheduler registers the triggers of an instance.
type Scheduler interface {
	// Validate rejects schedules that cannot be registered.
	Validate(s api.Schedule) error

	// Apply replaces all triggers of the instance with those of its
	// current schedule.
	Apply(ctx context.Context, inst *api.Instance) error

	// Clear removes all triggers of the instance.
	Clear(ctx context.Context, instanceID string) error
}

// Service implements the instance operations.
type Service struct {
	templates persistence.TemplateStore
	instances persistence.InstanceStore
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithScheduler sets the scheduler. Without one, schedules are stored but
// no triggers are registered.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns an instance Service.
func NewService(templates persistence.TemplateStore, instances persistence.InstanceStore, opts ...Option) *Service {
	s := &Service{
		templates: templates,
		instances: instances,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepConfig is the per-step configuration supplied on creation, keyed by
// the template's step id.
type StepConfig struct {
	Handler      string         `json:"handler,omitempty" yaml:"handler,omitempty"`
	Settings     map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
	Prompt       string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	QueueEnabled *bool          `json:"queue_enabled,omitempty" yaml:"queue_enabled,omitempty"`
}

// CreateParams describes a new instance.
type CreateParams struct {
	TemplateID  string
	Name        string
	Schedule    api.Schedule
	StepConfigs map[string]StepConfig
}

// Create stores a new instance of a template and registers its triggers.
func (s *Service) Create(ctx context.Context, p CreateParams) (*api.Instance, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: instance name is required", api.ErrValidation)
	}
	schedule := p.Schedule
	if schedule == nil {
		schedule = api.ScheduleManual{}
	}
	if err := s.validateSchedule(schedule); err != nil {
		return nil, err
	}

	tpl, err := s.templates.GetTemplate(ctx, p.TemplateID)
	if err != nil {
		return nil, err
	}
	for stepID := range p.StepConfigs {
		if tpl.StepIndex(stepID) < 0 {
			return nil, fmt.Errorf("%w: template %s has no step %q", api.ErrValidation, tpl.ID, stepID)
		}
	}

	now := s.now().UTC()
	inst := &api.Instance{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		Name:       name,
		Schedule:   schedule,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	syncBindings(inst, tpl)

	for _, def := range tpl.Steps {
		cfg, ok := p.StepConfigs[def.ID]
		if !ok {
			continue
		}
		ref := api.StepRefID(def.ID, inst.ID)
		b := inst.Steps[ref]
		b.Handler = cfg.Handler
		b.Settings = api.MergeSettings(nil, cfg.Settings)
		b.Prompt = cfg.Prompt
		if cfg.QueueEnabled != nil {
			b.QueueEnabled = *cfg.QueueEnabled
		}
		inst.Steps[ref] = b
	}

	if err := s.instances.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, inst); err != nil {
		return nil, err
	}

	s.logger.Info("Instance created",
		log.InstanceID(inst.ID),
		log.TemplateID(tpl.ID),
		slog.String("schedule", string(schedule.Kind())),
	)
	return inst, nil
}

// Get returns the instance with the given id.
func (s *Service) Get(ctx context.Context, id string) (*api.Instance, error) {
	return s.instances.GetInstance(ctx, id)
}

// List returns instances, optionally limited to one template.
func (s *Service) List(ctx context.Context, templateID string) ([]*api.Instance, error) {
	return s.instances.ListInstances(ctx, persistence.InstanceFilter{TemplateID: templateID})
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, id, name string) (*api.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: instance name is required", api.ErrValidation)
	}
	return s.instances.ModifyInstance(ctx, id, func(inst *api.Instance) error {
		inst.Name = name
		inst.UpdatedAt = s.now().UTC()
		return nil
	})
}

// UpdateSchedule stores a new schedule and replaces the instance's
// triggers. Calling it twice with the same schedule leaves one trigger.
func (s *Service) UpdateSchedule(ctx context.Context, id string, schedule api.Schedule) (*api.Instance, error) {
	if schedule == nil {
		schedule = api.ScheduleManual{}
	}
	if err := s.validateSchedule(schedule); err != nil {
		return nil, err
	}

	inst, err := s.instances.ModifyInstance(ctx, id, func(inst *api.Instance) error {
		inst.Schedule = schedule
		inst.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, inst); err != nil {
		return nil, err
	}

	s.logger.Info("Instance schedule updated",
		log.InstanceID(id),
		slog.String("schedule", string(schedule.Kind())),
	)
	return inst, nil
}

// StepUpdate changes parts of one binding. Nil fields are left alone.
type StepUpdate struct {
	Handler      *string
	Settings     map[string]any
	Prompt       *string
	EnabledTools []string
}

// UpdateStep applies u to the binding stepRefID.
func (s *Service) UpdateStep(ctx context.Context, id, stepRefID string, u StepUpdate) (*api.Instance, error) {
	return s.instances.ModifyInstance(ctx, id, func(inst *api.Instance) error {
		b, ok := inst.Steps[stepRefID]
		if !ok {
			return fmt.Errorf("step %s on instance %s %w", stepRefID, id, api.ErrNotFound)
		}
		if u.Handler != nil {
			b.Handler = strings.TrimSpace(*u.Handler)
		}
		if u.Settings != nil {
			b.Settings = api.MergeSettings(nil, u.Settings)
		}
		if u.Prompt != nil {
			b.Prompt = *u.Prompt
		}
		if u.EnabledTools != nil {
			b.EnabledTools = append([]string(nil), u.EnabledTools...)
		}
		inst.Steps[stepRefID] = b
		inst.UpdatedAt = s.now().UTC()
		return nil
	})
}

// Delete unschedules and removes the instance.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.instances.GetInstance(ctx, id); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.Clear(ctx, id); err != nil {
			return err
		}
	}
	if err := s.instances.DeleteInstance(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Instance deleted", log.InstanceID(id))
	return nil
}

// DeleteByTemplate deletes every instance of the template.
func (s *Service) DeleteByTemplate(ctx context.Context, templateID string) (int, error) {
	list, err := s.List(ctx, templateID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, inst := range list {
		err := s.Delete(ctx, inst.ID)
		if err != nil && !errors.Is(err, api.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// SyncTemplate resynchronizes the bindings of every instance of tpl.
func (s *Service) SyncTemplate(ctx context.Context, tpl *api.Template) error {
	list, err := s.List(ctx, tpl.ID)
	if err != nil {
		return err
	}
	for _, inst := range list {
		_, err := s.instances.ModifyInstance(ctx, inst.ID, func(inst *api.Instance) error {
			syncBindings(inst, tpl)
			inst.UpdatedAt = s.now().UTC()
			return nil
		})
		if err != nil {
			return fmt.Errorf("sync instance %s: %w", inst.ID, err)
		}
	}
	if len(list) > 0 {
		s.logger.Info("Instances synchronized",
			log.TemplateID(tpl.ID),
			slog.Int("instances", len(list)),
		)
	}
	return nil
}

func (s *Service) validateSchedule(schedule api.Schedule) error {
	if _, err := api.SpecOf(schedule).Schedule(); err != nil {
		return err
	}
	if s.scheduler != nil {
		return s.scheduler.Validate(schedule)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, inst *api.Instance) error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.Apply(ctx, inst); err != nil {
		return fmt.Errorf("schedule instance %s: %w", inst.ID, err)
	}
	return nil
}

// syncBindings makes inst.Steps follow tpl: one binding per template step,
// ordered like the template. Existing bindings keep their handler, settings
// and queue; bindings of removed steps are dropped.
func syncBindings(inst *api.Instance, tpl *api.Template) {
	next := make(map[string]api.StepBinding, len(tpl.Steps))
	for i, def := range tpl.Steps {
		ref := api.StepRefID(def.ID, inst.ID)
		b, ok := inst.Steps[ref]
		if !ok {
			b = api.StepBinding{
				StepRefID:    ref,
				SourceStepID: def.ID,
				EnabledTools: append([]string(nil), def.EnabledTools...),
				QueueEnabled: def.Type.QueueCapable(),
			}
		}
		b.StepType = def.Type
		b.ExecutionOrder = i + 1
		next[ref] = b
	}
	inst.Steps = next
}
