package instances

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// StepOverride replaces parts of a duplicated binding. Nil fields keep the
// copied value.
type StepOverride struct {
	Handler  *string        `json:"handler,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
	Prompt   *string        `json:"prompt,omitempty"`
}

// DuplicateParams controls Duplicate.
type DuplicateParams struct {
	// TargetTemplateID selects another template with the same step type
	// sequence. Empty keeps the source template.
	TargetTemplateID string

	// Name of the copy. Empty means "<source name> (copy)".
	Name string

	// Overrides is keyed by step type (e.g. "ai") or by 1-based execution
	// order ("2"). A step type key wins over an order key. Any other key is
	// rejected with api.ErrValidation.
	Overrides map[string]StepOverride
}

// Duplicate copies an instance, optionally onto another template.
//
// Bindings are mapped by position: the n-th step of the source becomes the
// n-th step of the copy and keeps its handler, settings, enabled tools and
// prompt. Queues and run history are not copied. The copy's schedule is
// the source's interval schedule, or manual for any other kind.
func (s *Service) Duplicate(ctx context.Context, sourceID string, p DuplicateParams) (*api.Instance, error) {
	src, err := s.instances.GetInstance(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	srcTpl, err := s.templates.GetTemplate(ctx, src.TemplateID)
	if err != nil {
		return nil, err
	}

	target := srcTpl
	if p.TargetTemplateID != "" && p.TargetTemplateID != src.TemplateID {
		target, err = s.templates.GetTemplate(ctx, p.TargetTemplateID)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(srcTpl.StepTypes(), target.StepTypes()) {
			return nil, &api.IncompatibleStructureError{
				Source: srcTpl.StepTypes(),
				Target: target.StepTypes(),
			}
		}
	}

	if err := checkOverrideKeys(p.Overrides, len(target.Steps)); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = src.Name + " (copy)"
	}

	now := s.now().UTC()
	dup := &api.Instance{
		ID:         uuid.NewString(),
		TemplateID: target.ID,
		Name:       name,
		Schedule:   duplicateSchedule(src.Schedule),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	syncBindings(dup, target)

	srcSteps := src.OrderedSteps()
	for _, b := range dup.OrderedSteps() {
		pos := b.ExecutionOrder - 1
		if pos < len(srcSteps) {
			from := srcSteps[pos]
			b.Handler = from.Handler
			b.Settings = api.MergeSettings(nil, from.Settings)
			b.EnabledTools = append([]string(nil), from.EnabledTools...)
			b.Prompt = from.Prompt
			b.QueueEnabled = from.QueueEnabled
		}
		if o, ok := lookupOverride(p.Overrides, b); ok {
			if o.Handler != nil {
				b.Handler = *o.Handler
			}
			if o.Settings != nil {
				b.Settings = api.MergeSettings(nil, o.Settings)
			}
			if o.Prompt != nil {
				b.Prompt = *o.Prompt
			}
		}
		dup.Steps[b.StepRefID] = b
	}

	if err := s.validateSchedule(dup.Schedule); err != nil {
		// An interval name that no longer resolves falls back to manual.
		dup.Schedule = api.ScheduleManual{}
	}
	if err := s.instances.SaveInstance(ctx, dup); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, dup); err != nil {
		return nil, err
	}

	s.logger.Info("Instance duplicated",
		log.InstanceID(dup.ID),
		slog.String("source_id", src.ID),
		log.TemplateID(target.ID),
	)
	return dup, nil
}

func checkOverrideKeys(overrides map[string]StepOverride, steps int) error {
	for key := range overrides {
		if api.StepType(key).Valid() {
			continue
		}
		order, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: override key %q is neither a step type nor an execution order", api.ErrValidation, key)
		}
		if order < 1 || order > steps {
			return fmt.Errorf("%w: override execution order %d is outside 1..%d", api.ErrValidation, order, steps)
		}
	}
	return nil
}

func lookupOverride(overrides map[string]StepOverride, b api.StepBinding) (StepOverride, bool) {
	if o, ok := overrides[string(b.StepType)]; ok {
		return o, true
	}
	o, ok := overrides[strconv.Itoa(b.ExecutionOrder)]
	return o, ok
}

func duplicateSchedule(s api.Schedule) api.Schedule {
	if iv, ok := s.(api.ScheduleInterval); ok && iv.Interval != "" {
		return iv
	}
	return api.ScheduleManual{}
}
