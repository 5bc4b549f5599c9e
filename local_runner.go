package contentflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/contentflow/pkg/log"
)

// LocalRunner bundles an in-memory System with background workers for
// local development and debugging.
//
// Typical usage:
//
//	runner, _ := contentflow.NewLocalRunner(ctx, contentflow.Options{})
//	tpl, _ := runner.Templates.Create(ctx, "Blog", steps)
//	...
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.RunAsync(ctx, inst.ID)
//	...
//	runner.Stop()
type LocalRunner struct {
	*System

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// ErrRunnerStarted is returned by StartWorkers when workers already run.
var ErrRunnerStarted = errors.New("contentflow: LocalRunner already started")

// NewLocalRunner constructs a LocalRunner backed by in-memory stores and an
// in-memory trigger queue. Storage settings in opts are ignored.
func NewLocalRunner(ctx context.Context, opts Options) (*LocalRunner, error) {
	opts.Persistence = nil
	opts.Triggers = nil
	sys, err := NewSystem(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &LocalRunner{System: sys}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that claim due
// triggers until Stop is called.
//
// If StartWorkers is called more than once without Stop, it returns
// ErrRunnerStarted.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRunnerStarted
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Worker.Run(ctx, concurrency); err != nil {
			r.logger.Error("Local runner stopped", log.Error(err))
		}
	}()
	return nil
}

// Stop cancels the worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// RunAsync enqueues a one-shot run of the instance for the workers.
func (r *LocalRunner) RunAsync(ctx context.Context, instanceID string) error {
	return r.Worker.EnqueueRun(ctx, instanceID, time.Time{})
}
