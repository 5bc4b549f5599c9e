package contentflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/petrijr/contentflow/internal/archive"
	"github.com/petrijr/contentflow/internal/dedup"
	"github.com/petrijr/contentflow/internal/engine"
	"github.com/petrijr/contentflow/internal/handlers"
	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/internal/queue"
	"github.com/petrijr/contentflow/internal/scheduler"
	"github.com/petrijr/contentflow/internal/server"
	"github.com/petrijr/contentflow/internal/taskqueue"
	"github.com/petrijr/contentflow/internal/templates"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Template             = api.Template
	StepDefinition       = api.StepDefinition
	StepType             = api.StepType
	Instance             = api.Instance
	StepBinding          = api.StepBinding
	QueueItem            = api.QueueItem
	Schedule             = api.Schedule
	ScheduleManual       = api.ScheduleManual
	ScheduleInterval     = api.ScheduleInterval
	ScheduleCron         = api.ScheduleCron
	ScheduleOneTime      = api.ScheduleOneTime
	ScheduleSpec         = api.ScheduleSpec
	Run                  = api.Run
	RunStatus            = api.RunStatus
	RunListOptions       = api.RunListOptions
	Snapshot             = api.Snapshot
	DataPacket           = api.DataPacket
	Handler              = api.Handler
	HandlerFunc          = api.HandlerFunc
	StepRequest          = api.StepRequest
	Result               = api.Result
	ProblemInstance      = api.ProblemInstance
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	NoopObserver         = api.NoopObserver
)

// Re-export common constructors and helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewPacket            = api.NewPacket
	Item                 = api.Item
	NoItem               = api.NoItem
	Skip                 = api.Skip
)

// Re-export step types and run statuses for convenience.

const (
	StepTypeFetch     = api.StepTypeFetch
	StepTypeAI        = api.StepTypeAI
	StepTypePublish   = api.StepTypePublish
	StepTypeUpdate    = api.StepTypeUpdate
	StepTypeAgentPing = api.StepTypeAgentPing

	RunPending          = api.RunPending
	RunRunning          = api.RunRunning
	RunCompleted        = api.RunCompleted
	RunCompletedNoItems = api.RunCompletedNoItems
	RunAgentSkipped     = api.RunAgentSkipped
	RunFailed           = api.RunFailed
)

// Options configures NewSystem. Zero values select in-memory stores, an
// in-memory trigger queue and the package defaults.
type Options struct {
	Persistence *persistence.Persistence
	Triggers    taskqueue.Queue

	// Registry receives the built-in handlers. A new one is created when
	// nil; register custom handlers on System.Registry afterwards.
	Registry *engine.Registry

	// ArchiveURL opens a blob bucket that receives every finished run.
	ArchiveURL string

	Observers           []api.Observer
	Intervals           map[string]time.Duration
	JobTimeout          time.Duration
	ProblemThreshold    int
	DedupMinTopicLength int
	WebhookTimeout      time.Duration
	WebhookURL          string

	Logger *slog.Logger
	Clock  func() time.Time
}

// System wires the stores, services, engine, scheduler and worker of one
// contentflow deployment.
type System struct {
	Persistence persistence.Persistence
	Registry    *engine.Registry
	Templates   *templates.Service
	Instances   *instances.Service
	Queue       *queue.Service
	Engine      Engine
	Scheduler   *scheduler.Adapter
	Triggers    taskqueue.Queue
	Worker      *worker.Worker
	Metrics     *BasicMetrics

	problemThreshold atomic.Int64
	logger           *slog.Logger
	archive          *archive.Archiver
	closers          []func() error
}

// NewSystem builds a System from opts.
func NewSystem(ctx context.Context, opts Options) (*System, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	p := persistence.NewInMemoryPersistence()
	if opts.Persistence != nil {
		p = *opts.Persistence
	}
	triggers := opts.Triggers
	if triggers == nil {
		triggers = taskqueue.NewInMemoryQueue(taskqueue.WithClock(clock))
	}
	reg := opts.Registry
	if reg == nil {
		reg = engine.NewRegistry()
	}
	err := handlers.RegisterBuiltins(reg, handlers.Config{
		WebhookTimeout: opts.WebhookTimeout,
		WebhookURL:     opts.WebhookURL,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	s := &System{
		Persistence: p,
		Registry:    reg,
		Triggers:    triggers,
		Metrics:     &BasicMetrics{},
		logger:      logger,
	}
	s.SetProblemThreshold(opts.ProblemThreshold)

	observers := []api.Observer{api.NewLoggingObserver(logger), s.Metrics}
	if opts.ArchiveURL != "" {
		s.archive, err = archive.Open(ctx, opts.ArchiveURL, "", logger)
		if err != nil {
			return nil, err
		}
		observers = append(observers, s.archive)
	}
	observers = append(observers, opts.Observers...)

	s.Scheduler = scheduler.NewAdapter(triggers, p.Instances,
		scheduler.WithIntervals(opts.Intervals),
		scheduler.WithLogger(logger),
		scheduler.WithClock(clock),
	)
	s.Instances = instances.NewService(p.Templates, p.Instances,
		instances.WithScheduler(s.Scheduler),
		instances.WithLogger(logger),
		instances.WithClock(clock),
	)
	s.Templates = templates.NewService(p.Templates,
		templates.WithDependents(s.Instances),
		templates.WithLogger(logger),
		templates.WithClock(clock),
	)
	s.Queue = queue.NewService(p.Instances,
		dedup.NewChecker(p.Content, opts.DedupMinTopicLength),
		queue.WithLogger(logger),
		queue.WithClock(clock),
	)
	s.Engine = engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Registry:    reg,
		Queue:       s.Queue,
		Observer:    api.NewCompositeObserver(observers...),
		Logger:      logger,
		Clock:       clock,
	})
	s.Worker = worker.NewWithConfig(s.Engine, triggers, worker.Config{
		JobTimeout:  opts.JobTimeout,
		Rescheduler: s.Scheduler,
		Logger:      logger,
		Clock:       clock,
	})
	return s, nil
}

// Start recovers runs interrupted by a previous process and registers the
// triggers of every scheduled instance. Call it before starting workers.
// Schedules are reconciled even when recovery fails; the returned error
// joins both failures.
func (s *System) Start(ctx context.Context) error {
	recovered, rerr := s.Engine.RecoverStuckRuns(ctx)
	if rerr != nil {
		rerr = fmt.Errorf("recover stuck runs: %w", rerr)
	}
	scheduled, serr := s.Scheduler.Reconcile(ctx)
	if serr != nil {
		serr = fmt.Errorf("reconcile schedules: %w", serr)
	}
	s.logger.Info("System started",
		slog.Int("recovered_runs", recovered),
		slog.Int("scheduled_instances", scheduled),
	)
	return errors.Join(rerr, serr)
}

// Handler returns the administrative HTTP API.
func (s *System) Handler() http.Handler {
	srv := server.NewServer(server.Services{
		Templates:        s.Templates,
		Instances:        s.Instances,
		Queue:            s.Queue,
		Engine:           s.Engine,
		Schedules:        s.Scheduler,
		ProblemThreshold: s.ProblemThreshold,
	}, s.logger)
	return srv.SetupRoutes()
}

// ProblemThreshold returns the configured failure-streak threshold.
func (s *System) ProblemThreshold() int {
	if n := s.problemThreshold.Load(); n > 0 {
		return int(n)
	}
	return engine.DefaultProblemThreshold
}

// SetProblemThreshold changes the threshold the HTTP API uses by default.
// Non-positive values select the engine default.
func (s *System) SetProblemThreshold(n int) {
	s.problemThreshold.Store(int64(n))
}

// Archive returns the run archiver, or nil when archiving is disabled.
func (s *System) Archive() *archive.Archiver {
	return s.archive
}

// Close releases the archive bucket and any connection the System opened.
func (s *System) Close() error {
	var errs []error
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Convenience helpers that forward to the underlying Engine.

// RunInstance runs an instance synchronously.
func RunInstance(ctx context.Context, eng Engine, instanceID string) (*Run, error) {
	return eng.RunInstance(ctx, instanceID)
}

// ListRuns lists runs according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*Run, error) {
	return eng.ListRuns(ctx, opts)
}

// RecoverStuckRuns delegates to eng.RecoverStuckRuns.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := contentflow.RecoverStuckRuns(ctx, engine)
func RecoverStuckRuns(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckRuns(ctx)
}
