package contentflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/db"
	"github.com/petrijr/contentflow/internal/queue"
	"github.com/petrijr/contentflow/internal/testutil"
	"github.com/petrijr/contentflow/pkg/api"
)

// A run enqueued before a restart is executed by the next process and
// consumes the prompt that was queued before the restart.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "contentflow.db")

	conn1, err := db.Open(ctx, path)
	require.NoError(t, err)
	sys1, err := NewSQLiteBundle(ctx, conn1, Options{})
	require.NoError(t, err)

	inst, ref := seedPipeline(t, sys1, api.ScheduleManual{})
	_, err = sys1.Queue.Add(ctx, inst.ID, ref, "Osprey symbolism", queue.AddOptions{})
	require.NoError(t, err)
	require.NoError(t, sys1.Worker.EnqueueRun(ctx, inst.ID, time.Time{}))
	require.NoError(t, conn1.Close())

	conn2, err := db.Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = conn2.Close() }()
	sys2, err := NewSQLiteBundle(ctx, conn2, Options{})
	require.NoError(t, err)
	require.NoError(t, sys2.Registry.RegisterHandler(StepTypeAI, "", titleHandler))
	require.NoError(t, sys2.Start(ctx))

	assert.Equal(t, 1, sys2.Triggers.Len())

	processed, err := sys2.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	runs, err := sys2.Engine.ListRuns(ctx, RunListOptions{InstanceID: inst.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunCompleted, runs[0].Status)
	assert.Equal(t, "Osprey symbolism", runs[0].ConsumedPrompts[ref])

	items, err := sys2.Queue.List(ctx, inst.ID, ref)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisBundle(t *testing.T) {
	ctx := context.Background()
	server, client := testutil.NewRedis(t)

	sys, err := NewRedisBundle(ctx, testutil.NewSQLite(t), client, "cf:", Options{})
	require.NoError(t, err)

	inst, _ := seedPipeline(t, sys, api.ScheduleInterval{Interval: "daily"})
	next, err := sys.Scheduler.NextRun(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, server.Exists("cf:triggers:due"))

	run, err := sys.Engine.RunInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, server.Exists("cf:run:"+run.ID))
}
