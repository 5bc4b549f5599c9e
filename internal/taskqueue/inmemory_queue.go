package taskqueue

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryQueue keeps triggers in process memory. It is safe for
// concurrent use.
type InMemoryQueue struct {
	mu       sync.Mutex
	triggers []entry
	seq      int64
	opts     options
}

type entry struct {
	trigger Trigger
	seq     int64
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	return &InMemoryQueue{opts: defaultOptions(opts)}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Schedule(ctx context.Context, t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.EnqueuedAt = q.opts.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.triggers = append(q.triggers, entry{trigger: t, seq: q.seq})
	sort.SliceStable(q.triggers, func(i, j int) bool {
		a, b := q.triggers[i], q.triggers[j]
		if !a.trigger.NextRunAt.Equal(b.trigger.NextRunAt) {
			return a.trigger.NextRunAt.Before(b.trigger.NextRunAt)
		}
		return a.seq < b.seq
	})
	return nil
}

func (q *InMemoryQueue) Unschedule(ctx context.Context, hook, instanceID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.triggers[:0]
	removed := 0
	for _, e := range q.triggers {
		if e.trigger.Hook == hook && e.trigger.InstanceID == instanceID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.triggers = kept
	return removed, nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Trigger, error) {
	for {
		if t, ok := q.claim(); ok {
			return t, nil
		}
		if err := wait(ctx, q.opts.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *InMemoryQueue) claim() (*Trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 || q.triggers[0].trigger.NextRunAt.After(q.opts.now()) {
		return nil, false
	}
	t := q.triggers[0].trigger
	q.triggers = q.triggers[1:]
	return &t, true
}

func (q *InMemoryQueue) List(ctx context.Context, instanceID string) ([]Trigger, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Trigger
	for _, e := range q.triggers {
		if instanceID == "" || e.trigger.InstanceID == instanceID {
			out = append(out, e.trigger)
		}
	}
	return out, nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}
