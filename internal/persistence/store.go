package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/contentflow/pkg/api"
)

var (
	// ErrTemplateNotFound is returned when a template is not found.
	ErrTemplateNotFound = fmt.Errorf("template %w", api.ErrNotFound)

	// ErrInstanceNotFound is returned when an instance is not found.
	ErrInstanceNotFound = fmt.Errorf("instance %w", api.ErrNotFound)

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = fmt.Errorf("run %w", api.ErrNotFound)

	// ErrContentNotFound is returned when no content record matches.
	ErrContentNotFound = fmt.Errorf("content %w", api.ErrNotFound)
)

// TemplateStore handles storage of templates.
type TemplateStore interface {
	// SaveTemplate inserts or replaces a template.
	SaveTemplate(ctx context.Context, tpl *api.Template) error
	GetTemplate(ctx context.Context, id string) (*api.Template, error)
	ListTemplates(ctx context.Context) ([]*api.Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	// ModifyTemplate applies fn to the current template and persists the
	// result atomically with respect to other ModifyTemplate calls. If fn
	// returns an error nothing is written.
	ModifyTemplate(ctx context.Context, id string, fn func(tpl *api.Template) error) (*api.Template, error)
}

// InstanceFilter is used to select instances from the store.
// Zero values mean "no filter" for that field.
type InstanceFilter struct {
	TemplateID string

	// Scheduled limits results to instances with a non-manual schedule.
	Scheduled bool
}

// InstanceStore handles storage of instances.
//
// Every mutation of an existing instance goes through ModifyInstance, which
// reads the full instance, applies fn and writes it back atomically with
// respect to other ModifyInstance calls on the same instance. Concurrent
// edits to different steps therefore never clobber each other.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *api.Instance) error
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	// ModifyInstance applies fn to the current instance and persists the
	// result. If fn returns an error nothing is written.
	ModifyInstance(ctx context.Context, id string, fn func(inst *api.Instance) error) (*api.Instance, error)
}

// RunFilter is used to select runs from the store.
type RunFilter struct {
	InstanceID string
	Status     api.RunStatus
	Limit      int
}

// RunStore handles storage of run records. Runs are listed newest first.
type RunStore interface {
	SaveRun(ctx context.Context, run *api.Run) error
	UpdateRun(ctx context.Context, run *api.Run) error
	GetRun(ctx context.Context, id string) (*api.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error)

	// TransitionRun moves a run from one status to another only if it is
	// currently in from. It reports whether the transition happened.
	TransitionRun(ctx context.Context, id string, from, to api.RunStatus, at time.Time) (bool, error)
}

// ContentStore holds previously produced content.
type ContentStore interface {
	SaveContent(ctx context.Context, rec *api.ContentRecord) error

	// FindContentByTitle returns the record whose title equals title,
	// ignoring case, or ErrContentNotFound.
	FindContentByTitle(ctx context.Context, title string) (*api.ContentRecord, error)

	// SearchContent returns records whose title contains fragment,
	// ignoring case, newest first.
	SearchContent(ctx context.Context, fragment string, limit int) ([]*api.ContentRecord, error)
}

// ProcessedStore tracks which source items each step has already handled.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, stepRefID, itemID string, at time.Time) error
	IsProcessed(ctx context.Context, stepRefID, itemID string) (bool, error)
}
