package saga

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps saga instances in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory saga store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*Instance)}
}

func (s *MemoryStore) Save(ctx context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return cloneInstance(inst), nil
}

func (s *MemoryStore) List(ctx context.Context, sagaType string) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Instance
	for _, inst := range s.instances {
		if sagaType != "" && inst.Type != sagaType {
			continue
		}
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneInstance(inst *Instance) *Instance {
	c := *inst
	c.Steps = append([]StepRecord(nil), inst.Steps...)
	return &c
}
