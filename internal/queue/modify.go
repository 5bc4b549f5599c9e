package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/contentflow/pkg/api"
)

// errNoChange aborts a modification without writing and without failing.
var errNoChange = errors.New("no change")

func key(instanceID, stepRefID string) string {
	return instanceID + "\x00" + stepRefID
}

// modify applies fn to one binding through the store's read-modify-write
// path. Callers hold the queue lock.
func (s *Service) modify(ctx context.Context, instanceID, stepRefID string, fn func(b *api.StepBinding) error) error {
	_, err := s.instances.ModifyInstance(ctx, instanceID, func(inst *api.Instance) error {
		b, ok := inst.Steps[stepRefID]
		if !ok {
			return stepNotFound(instanceID, stepRefID)
		}
		if err := fn(&b); err != nil {
			return err
		}
		inst.Steps[stepRefID] = b
		inst.UpdatedAt = s.now().UTC()
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

func (s *Service) binding(ctx context.Context, instanceID, stepRefID string) (api.StepBinding, error) {
	inst, err := s.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return api.StepBinding{}, err
	}
	b, ok := inst.Steps[stepRefID]
	if !ok {
		return api.StepBinding{}, stepNotFound(instanceID, stepRefID)
	}
	return b, nil
}

func stepNotFound(instanceID, stepRefID string) error {
	return fmt.Errorf("step %s on instance %s %w", stepRefID, instanceID, api.ErrNotFound)
}

func checkIndex(index, length int) error {
	if index < 0 || index >= length {
		return fmt.Errorf("%w: index %d, queue length %d", api.ErrOutOfRange, index, length)
	}
	return nil
}
