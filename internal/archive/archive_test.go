package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/contentflow/internal/archive"
	"github.com/petrijr/contentflow/pkg/api"
)

func finishedRun(id string) *api.Run {
	done := time.Date(2026, 3, 3, 3, 3, 3, 0, time.UTC)
	out, _ := api.NewPacket("post", map[string]string{"title": "Archived"})
	return &api.Run{
		ID:          id,
		InstanceID:  "inst-1",
		TemplateID:  "tpl-1",
		Status:      api.RunCompleted,
		CreatedAt:   done.Add(-time.Minute),
		CompletedAt: &done,
		Output:      out,
		Snapshot:    api.Snapshot{InstanceName: "Daily"},
	}
}

func TestArchiver_WriteReadList(t *testing.T) {
	ctx := context.Background()
	a, err := archive.Open(ctx, "mem://", "prod", nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "prod/runs/inst-1/r1.json", a.Key("inst-1", "r1"))

	a.OnRunFinished(ctx, finishedRun("r1"))
	a.OnRunFinished(ctx, finishedRun("r2"))

	got, err := a.Read(ctx, "inst-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, api.RunCompleted, got.Status)
	assert.Equal(t, "Archived", got.Output.Title())
	assert.Equal(t, "Daily", got.Snapshot.InstanceName)

	ids, err := a.List(ctx, "inst-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	_, err = a.Read(ctx, "inst-1", "missing")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestArchiver_FileBucket(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := archive.Open(ctx, "file://"+filepath.ToSlash(dir), "", nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Write(ctx, finishedRun("r9")))

	_, err = os.Stat(filepath.Join(dir, "runs", "inst-1", "r9.json"))
	assert.NoError(t, err)
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := archive.Open(context.Background(), "", "", nil)
	assert.ErrorIs(t, err, archive.ErrBucketRequired)
}
