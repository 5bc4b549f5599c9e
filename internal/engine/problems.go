package engine

import (
	"context"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
)

// FailureStreak counts the instance's most recent failed or
// completed_no_items runs, stopping at the first completed run. Skipped
// and unfinished runs are passed over.
func (e *engineImpl) FailureStreak(ctx context.Context, instanceID string) (int, error) {
	streak, _, err := e.failureStreak(ctx, instanceID)
	return streak, err
}

func (e *engineImpl) failureStreak(ctx context.Context, instanceID string) (int, api.RunStatus, error) {
	runs, err := e.runs.ListRuns(ctx, persistence.RunFilter{InstanceID: instanceID})
	if err != nil {
		return 0, "", err
	}

	streak := 0
	var last api.RunStatus
	for _, run := range runs {
		if last == "" && run.Status.Terminal() {
			last = run.Status
		}
		switch run.Status {
		case api.RunCompleted:
			return streak, last, nil
		case api.RunFailed, api.RunCompletedNoItems:
			streak++
		}
	}
	return streak, last, nil
}

// ProblemInstances returns the instances whose failure streak exceeds
// threshold. It is a monitoring signal and never affects scheduling.
func (e *engineImpl) ProblemInstances(ctx context.Context, threshold int) ([]api.ProblemInstance, error) {
	if threshold <= 0 {
		threshold = DefaultProblemThreshold
	}

	list, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{})
	if err != nil {
		return nil, err
	}

	var problems []api.ProblemInstance
	for _, inst := range list {
		streak, last, err := e.failureStreak(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		if streak > threshold {
			problems = append(problems, api.ProblemInstance{
				InstanceID: inst.ID,
				Name:       inst.Name,
				Streak:     streak,
				LastStatus: last,
			})
		}
	}
	return problems, nil
}
