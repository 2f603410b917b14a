package dlq

import (
	"context"
	"sync"
)

// MemoryStore keeps dead-letter entries in process memory. Suitable for
// tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory dead-letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Save(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey(entry.Event.ID, entry.Processor)] = cloneEntry(entry)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, eventID, processor string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryKey(eventID, processor)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (s *MemoryStore) Delete(ctx context.Context, eventID, processor string) error {
	s.mu.Lock()
	delete(s.entries, entryKey(eventID, processor))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, processor string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*Entry
	for _, entry := range s.entries {
		if processor != "" && entry.Processor != processor {
			continue
		}
		entries = append(entries, cloneEntry(entry))
	}
	sortEntries(entries)
	return entries, nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func entryKey(eventID, processor string) string {
	return eventID + "|" + processor
}

func cloneEntry(entry *Entry) *Entry {
	c := *entry
	c.Event = entry.Event.Clone()
	return &c
}
