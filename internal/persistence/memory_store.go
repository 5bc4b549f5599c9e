package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/petrijr/contentflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of every store
// interface backed by maps. Values are copied on the way in and out so
// callers never share state with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*api.Template
	instances map[string]*api.Instance
	runs      map[string]*memRun
	content   []*api.ContentRecord
	processed map[string]time.Time
	runSeq    int64
}

type memRun struct {
	run *api.Run
	seq int64
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates: make(map[string]*api.Template),
		instances: make(map[string]*api.Instance),
		runs:      make(map[string]*memRun),
		processed: make(map[string]time.Time),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ TemplateStore  = (*InMemoryStore)(nil)
	_ InstanceStore  = (*InMemoryStore)(nil)
	_ RunStore       = (*InMemoryStore)(nil)
	_ ContentStore   = (*InMemoryStore)(nil)
	_ ProcessedStore = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveTemplate(ctx context.Context, tpl *api.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates[tpl.ID] = tpl.Clone()
	return nil
}

func (s *InMemoryStore) GetTemplate(ctx context.Context, id string) (*api.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return tpl.Clone(), nil
}

func (s *InMemoryStore) ListTemplates(ctx context.Context) ([]*api.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*api.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		result = append(result, tpl.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(s.templates, id)
	return nil
}

// ModifyTemplate runs fn under the store lock; fn must not call back into
// the store.
func (s *InMemoryStore) ModifyTemplate(ctx context.Context, id string, fn func(tpl *api.Template) error) (*api.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = id
	s.templates[id] = work.Clone()
	return work, nil
}

func (s *InMemoryStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Instance
	for _, inst := range s.instances {
		if filter.TemplateID != "" && inst.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Scheduled && api.IsManual(inst.Schedule) {
			continue
		}
		result = append(result, inst.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) DeleteInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	delete(s.instances, id)
	return nil
}

// ModifyInstance runs fn under the store lock; fn must not call back into
// the store.
func (s *InMemoryStore) ModifyInstance(ctx context.Context, id string, fn func(inst *api.Instance) error) (*api.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = id
	s.instances[id] = work.Clone()
	return work, nil
}

func (s *InMemoryStore) SaveRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runSeq++
	s.runs[run.ID] = &memRun{run: run.Clone(), seq: s.runSeq}
	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	cur.run = run.Clone()
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cur.run.Clone(), nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memRun, 0, len(s.runs))
	for _, r := range s.runs {
		if filter.InstanceID != "" && r.run.InstanceID != filter.InstanceID {
			continue
		}
		if filter.Status != "" && r.run.Status != filter.Status {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.run.CreatedAt.Equal(b.run.CreatedAt) {
			return a.run.CreatedAt.After(b.run.CreatedAt)
		}
		return a.seq > b.seq
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	result := make([]*api.Run, len(matched))
	for i, r := range matched {
		result[i] = r.run.Clone()
	}
	return result, nil
}

func (s *InMemoryStore) TransitionRun(ctx context.Context, id string, from, to api.RunStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[id]
	if !ok {
		return false, ErrRunNotFound
	}
	if cur.run.Status != from {
		return false, nil
	}
	cur.run.Status = to
	if to == api.RunRunning {
		t := at
		cur.run.StartedAt = &t
	}
	if to.Terminal() {
		t := at
		cur.run.CompletedAt = &t
	}
	return true, nil
}

func (s *InMemoryStore) SaveContent(ctx context.Context, rec *api.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *rec
	s.content = append(s.content, &c)
	return nil
}

func (s *InMemoryStore) FindContentByTitle(ctx context.Context, title string) (*api.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := strings.ToLower(strings.TrimSpace(title))
	for i := len(s.content) - 1; i >= 0; i-- {
		rec := s.content[i]
		if strings.ToLower(rec.Title) == want {
			c := *rec
			return &c, nil
		}
	}
	return nil, ErrContentNotFound
}

func (s *InMemoryStore) SearchContent(ctx context.Context, fragment string, limit int) ([]*api.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := strings.ToLower(strings.TrimSpace(fragment))
	var result []*api.ContentRecord
	for i := len(s.content) - 1; i >= 0; i-- {
		rec := s.content[i]
		if !strings.Contains(strings.ToLower(rec.Title), want) {
			continue
		}
		c := *rec
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, stepRefID, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[stepRefID+"\x00"+itemID] = at
	return nil
}

func (s *InMemoryStore) IsProcessed(ctx context.Context, stepRefID, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[stepRefID+"\x00"+itemID]
	return ok, nil
}
