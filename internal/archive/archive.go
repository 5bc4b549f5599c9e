// Package archive writes finished runs to a blob bucket as JSON.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

type (
	// Archiver is an api.Observer that stores every terminal run under
	// <prefix>runs/<instance_id>/<run_id>.json.
	Archiver struct {
		api.NoopObserver
		bucket *blob.Bucket
		prefix string
		logger *slog.Logger
	}
)

var ErrBucketRequired = errors.New("bucket URL is required")

var _ api.Observer = (*Archiver)(nil)

// Open opens the bucket at bucketURL (file:///path, mem://).
func Open(ctx context.Context, bucketURL, prefix string, logger *slog.Logger) (*Archiver, error) {
	if bucketURL == "" {
		return nil, ErrBucketRequired
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{bucket: bucket, prefix: prefix, logger: logger}, nil
}

// Key returns the object key of a run.
func (a *Archiver) Key(instanceID, runID string) string {
	return a.prefix + "runs/" + instanceID + "/" + runID + ".json"
}

// OnRunFinished archives the run. Failures are logged; archiving never
// affects the run.
func (a *Archiver) OnRunFinished(ctx context.Context, run *api.Run) {
	if err := a.Write(ctx, run); err != nil {
		a.logger.Warn("Failed to archive run",
			log.RunID(run.ID),
			log.InstanceID(run.InstanceID),
			log.Error(err),
		)
	}
}

// Write stores run, replacing any earlier copy.
func (a *Archiver) Write(ctx context.Context, run *api.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.Key(run.InstanceID, run.ID), data, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

// Read loads an archived run.
func (a *Archiver) Read(ctx context.Context, instanceID, runID string) (*api.Run, error) {
	data, err := a.bucket.ReadAll(ctx, a.Key(instanceID, runID))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("archived run %s: %w", runID, api.ErrNotFound)
		}
		return nil, err
	}
	var run api.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns the IDs of archived runs of an instance.
func (a *Archiver) List(ctx context.Context, instanceID string) ([]string, error) {
	dir := a.prefix + "runs/" + instanceID + "/"
	it := a.bucket.List(&blob.ListOptions{Prefix: dir})

	var ids []string
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(obj.Key, dir), ".json"))
	}
}

func (a *Archiver) Close() error {
	return a.bucket.Close()
}
