// Package queue manages the per-step prompt queues stored on instance step
// bindings.
//
// A queue is addressed by (instance ID, step ref ID). Every mutation is a
// read-modify-write of the owning instance performed through
// InstanceStore.ModifyInstance while holding a per-queue lock, so
// concurrent pops of the same queue never return the same entry twice.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petrijr/contentflow/internal/dedup"
	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

// Service implements the prompt queue operations.
type Service struct {
	instances persistence.InstanceStore
	checker   *dedup.Checker
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service. checker may be nil, in which case Add skips
// the content check and Validate reports nothing.
func NewService(instances persistence.InstanceStore, checker *dedup.Checker, opts ...Option) *Service {
	s := &Service{
		instances: instances,
		checker:   checker,
		locks:     newKeyedMutex(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddOptions tunes Add.
type AddOptions struct {
	// SkipContentCheck accepts the prompt even if it matches produced
	// content. Used after a caller confirmed a reported match.
	SkipContentCheck bool
}

// Add appends prompt to the queue and returns its index. It refuses empty
// prompts, prompts already queued (ignoring case) and, unless told not to,
// prompts that match produced content. Refusals for duplicates are
// *DuplicateError values.
func (s *Service) Add(ctx context.Context, instanceID, stepRefID, prompt string, opts AddOptions) (int, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return 0, fmt.Errorf("%w: prompt must not be empty", api.ErrValidation)
	}

	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	if !opts.SkipContentCheck && s.checker != nil {
		m, err := s.checker.Find(ctx, prompt)
		if err != nil {
			return 0, err
		}
		if m != nil {
			return 0, &DuplicateError{Prompt: prompt, QueueIndex: -1, Content: m}
		}
	}

	var index int
	err := s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if !b.StepType.QueueCapable() {
			return fmt.Errorf("%w: step %s of type %s has no prompt queue", api.ErrValidation, stepRefID, b.StepType)
		}
		for i, item := range b.Queue {
			if strings.EqualFold(item.Prompt, prompt) {
				return &DuplicateError{Prompt: prompt, QueueIndex: i}
			}
		}
		b.Queue = append(b.Queue, api.QueueItem{Prompt: prompt, AddedAt: s.now().UTC()})
		index = len(b.Queue) - 1
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Prompt queued",
		log.InstanceID(instanceID),
		log.StepRef(stepRefID),
		slog.Int("index", index),
	)
	return index, nil
}

// List returns the queued items in processing order.
func (s *Service) List(ctx context.Context, instanceID, stepRefID string) ([]api.QueueItem, error) {
	b, err := s.binding(ctx, instanceID, stepRefID)
	if err != nil {
		return nil, err
	}
	return append([]api.QueueItem{}, b.Queue...), nil
}

// Clear empties the queue and returns how many items were removed.
func (s *Service) Clear(ctx context.Context, instanceID, stepRefID string) (int, error) {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	var cleared int
	err := s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		cleared = len(b.Queue)
		b.Queue = nil
		return nil
	})
	return cleared, err
}

// Remove deletes the item at index.
func (s *Service) Remove(ctx context.Context, instanceID, stepRefID string, index int) error {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	return s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if err := checkIndex(index, len(b.Queue)); err != nil {
			return err
		}
		b.Queue = append(b.Queue[:index], b.Queue[index+1:]...)
		return nil
	})
}

// Update replaces the prompt at index. Index 0 of an empty queue creates
// the first entry instead, and an empty prompt there changes nothing.
func (s *Service) Update(ctx context.Context, instanceID, stepRefID string, index int, prompt string) error {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	return s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if len(b.Queue) == 0 && index == 0 {
			if prompt == "" {
				return errNoChange
			}
			b.Queue = []api.QueueItem{{Prompt: prompt, AddedAt: s.now().UTC()}}
			return nil
		}
		if err := checkIndex(index, len(b.Queue)); err != nil {
			return err
		}
		b.Queue[index].Prompt = prompt
		return nil
	})
}

// Move relocates the item at from to position to.
func (s *Service) Move(ctx context.Context, instanceID, stepRefID string, from, to int) error {
	if from == to {
		// Still report unknown instances and steps.
		_, err := s.binding(ctx, instanceID, stepRefID)
		return err
	}

	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	return s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if err := checkIndex(from, len(b.Queue)); err != nil {
			return err
		}
		if err := checkIndex(to, len(b.Queue)); err != nil {
			return err
		}
		item := b.Queue[from]
		q := append(b.Queue[:from:from], b.Queue[from+1:]...)
		q = append(q[:to], append([]api.QueueItem{item}, q[to:]...)...)
		b.Queue = q
		return nil
	})
}

// Pop removes and returns the first prompt. ok is false when the queue is
// empty. Only the step dispatcher consumes queues.
func (s *Service) Pop(ctx context.Context, instanceID, stepRefID string) (prompt string, ok bool, err error) {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	err = s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if len(b.Queue) == 0 {
			return errNoChange
		}
		prompt, ok = b.Queue[0].Prompt, true
		b.Queue = b.Queue[1:]
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if ok {
		s.logger.Debug("Prompt popped",
			log.InstanceID(instanceID),
			log.StepRef(stepRefID),
		)
	}
	return prompt, ok, nil
}

// Peek returns the first prompt without removing it.
func (s *Service) Peek(ctx context.Context, instanceID, stepRefID string) (string, bool, error) {
	b, err := s.binding(ctx, instanceID, stepRefID)
	if err != nil {
		return "", false, err
	}
	if len(b.Queue) == 0 {
		return "", false, nil
	}
	return b.Queue[0].Prompt, true, nil
}

// SetQueueEnabled toggles whether runs consume (true) or reuse (false) the
// first entry.
func (s *Service) SetQueueEnabled(ctx context.Context, instanceID, stepRefID string, enabled bool) error {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	return s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		if b.QueueEnabled == enabled {
			return errNoChange
		}
		b.QueueEnabled = enabled
		return nil
	})
}

// ValidationMatch is one queued entry that matches produced content.
type ValidationMatch struct {
	Index  int          `json:"index"`
	Prompt string       `json:"prompt"`
	Match  *dedup.Match `json:"match"`
}

// ValidationReport is the result of Validate.
type ValidationReport struct {
	Checked int               `json:"checked"`
	Matches []ValidationMatch `json:"matches"`
	Removed int               `json:"removed"`
	DryRun  bool              `json:"dry_run"`
}

// Validate checks every queued prompt against produced content. Unless
// dryRun is set, matching entries are removed.
func (s *Service) Validate(ctx context.Context, instanceID, stepRefID string, dryRun bool) (*ValidationReport, error) {
	unlock := s.locks.Lock(key(instanceID, stepRefID))
	defer unlock()

	b, err := s.binding(ctx, instanceID, stepRefID)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{Checked: len(b.Queue), DryRun: dryRun}
	if s.checker != nil {
		for i, item := range b.Queue {
			m, err := s.checker.Find(ctx, item.Prompt)
			if err != nil {
				return nil, err
			}
			if m != nil {
				report.Matches = append(report.Matches, ValidationMatch{Index: i, Prompt: item.Prompt, Match: m})
			}
		}
	}
	if dryRun || len(report.Matches) == 0 {
		return report, nil
	}

	err = s.modify(ctx, instanceID, stepRefID, func(b *api.StepBinding) error {
		// Reverse order keeps the remaining indices valid.
		for i := len(report.Matches) - 1; i >= 0; i-- {
			m := report.Matches[i]
			if m.Index >= len(b.Queue) || b.Queue[m.Index].Prompt != m.Prompt {
				continue
			}
			b.Queue = append(b.Queue[:m.Index], b.Queue[m.Index+1:]...)
			report.Removed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Queue validated",
		log.InstanceID(instanceID),
		log.StepRef(stepRefID),
		slog.Int("matches", len(report.Matches)),
		slog.Int("removed", report.Removed),
	)
	return report, nil
}
