package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/contentflow/internal/testutil"
	"github.com/petrijr/contentflow/pkg/api"
)

// RunStoreSuite exercises the RunStore contract against one backend.
type RunStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) RunStore
	runs     RunStore
	ctx      context.Context
}

func (s *RunStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.runs = s.newStore(s.T())
}

func TestInMemoryRunStore(t *testing.T) {
	suite.Run(t, &RunStoreSuite{newStore: func(*testing.T) RunStore {
		return NewInMemoryStore()
	}})
}

func TestSQLiteRunStore(t *testing.T) {
	suite.Run(t, &RunStoreSuite{newStore: func(t *testing.T) RunStore {
		return NewSQLiteStore(testutil.NewSQLite(t))
	}})
}

func TestRedisRunStore(t *testing.T) {
	suite.Run(t, &RunStoreSuite{newStore: func(t *testing.T) RunStore {
		_, client := testutil.NewRedis(t)
		return NewRedisRunStore(client, "contentflow:test:")
	}})
}

func sampleRun(id, instanceID string, status api.RunStatus) *api.Run {
	return &api.Run{
		ID:         id,
		InstanceID: instanceID,
		TemplateID: "t1",
		Status:     status,
		CreatedAt:  baseTime,
		Snapshot: api.Snapshot{
			InstanceName: "Instance " + instanceID,
			TemplateName: "Template t1",
			Steps: map[string]api.StepBinding{
				"fetch_" + instanceID: {
					StepRefID:      "fetch_" + instanceID,
					StepType:       api.StepTypeFetch,
					SourceStepID:   "fetch",
					ExecutionOrder: 1,
				},
			},
		},
	}
}

func (s *RunStoreSuite) TestSaveGetUpdate() {
	run := sampleRun("r1", "i1", api.RunPending)
	s.Require().NoError(s.runs.SaveRun(s.ctx, run))

	got, err := s.runs.GetRun(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(api.RunPending, got.Status)
	s.Equal("Instance i1", got.Snapshot.InstanceName)
	s.Len(got.Snapshot.Steps, 1)
	s.Nil(got.Output)

	packet, err := api.NewPacket("ai_response", map[string]string{"title": "Hello"})
	s.Require().NoError(err)
	run.Status = api.RunCompleted
	run.Output = packet
	run.ConsumedPrompts = map[string]string{"write_i1": "queued prompt"}
	run.CurrentStep = 1
	s.Require().NoError(s.runs.UpdateRun(s.ctx, run))

	got, err = s.runs.GetRun(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(api.RunCompleted, got.Status)
	s.Equal("Hello", got.Output.Title())
	s.Equal("queued prompt", got.ConsumedPrompts["write_i1"])
	s.Equal(1, got.CurrentStep)

	_, err = s.runs.GetRun(s.ctx, "missing")
	s.ErrorIs(err, ErrRunNotFound)
	s.ErrorIs(s.runs.UpdateRun(s.ctx, sampleRun("missing", "i1", api.RunFailed)), ErrRunNotFound)
}

func (s *RunStoreSuite) TestListNewestFirst() {
	for i := 1; i <= 3; i++ {
		s.Require().NoError(s.runs.SaveRun(s.ctx, sampleRun(fmt.Sprintf("r%d", i), "i1", api.RunFailed)))
	}
	s.Require().NoError(s.runs.SaveRun(s.ctx, sampleRun("other", "i2", api.RunCompleted)))

	runs, err := s.runs.ListRuns(s.ctx, RunFilter{InstanceID: "i1"})
	s.Require().NoError(err)
	s.Require().Len(runs, 3)
	s.Equal("r3", runs[0].ID)
	s.Equal("r1", runs[2].ID)

	limited, err := s.runs.ListRuns(s.ctx, RunFilter{InstanceID: "i1", Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(limited, 2)
	s.Equal("r3", limited[0].ID)

	completed, err := s.runs.ListRuns(s.ctx, RunFilter{Status: api.RunCompleted})
	s.Require().NoError(err)
	s.Require().Len(completed, 1)
	s.Equal("other", completed[0].ID)

	all, err := s.runs.ListRuns(s.ctx, RunFilter{})
	s.Require().NoError(err)
	s.Len(all, 4)
}

func (s *RunStoreSuite) TestTransitionRun() {
	s.Require().NoError(s.runs.SaveRun(s.ctx, sampleRun("r1", "i1", api.RunPending)))

	started := baseTime.Add(time.Minute)
	ok, err := s.runs.TransitionRun(s.ctx, "r1", api.RunPending, api.RunRunning, started)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.runs.TransitionRun(s.ctx, "r1", api.RunPending, api.RunRunning, started)
	s.Require().NoError(err)
	s.False(ok, "second claim must lose")

	done := started.Add(time.Minute)
	ok, err = s.runs.TransitionRun(s.ctx, "r1", api.RunRunning, api.RunFailed, done)
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.runs.GetRun(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(api.RunFailed, got.Status)
	s.Require().NotNil(got.StartedAt)
	s.Require().NotNil(got.CompletedAt)
	s.True(got.StartedAt.Equal(started))
	s.True(got.CompletedAt.Equal(done))

	_, err = s.runs.TransitionRun(s.ctx, "missing", api.RunPending, api.RunRunning, started)
	s.ErrorIs(err, ErrRunNotFound)
}
