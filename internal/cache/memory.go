package cache

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]Entry
}

// NewMemory returns a process-local store. It does not survive restarts, so
// every boot begins with a fresh install; the sqlite and redis backends are
// the persistent options.
func NewMemory() Store {
	return &memoryStore{generations: make(map[string]map[string]Entry)}
}

func (s *memoryStore) Get(_ context.Context, generation, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.generations[generation]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Put(_ context.Context, generation, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.generations[generation]
	if !ok {
		entries = make(map[string]Entry)
		s.generations[generation] = entries
	}
	entries[key] = cloneEntry(entry)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, generation, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.generations[generation]; ok {
		delete(entries, key)
	}
	return nil
}

func (s *memoryStore) Keys(_ context.Context, generation string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.generations[generation]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) ListGenerations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	return names, nil
}

func (s *memoryStore) DeleteGeneration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, name)
	return nil
}

func (s *memoryStore) BytesUsed(_ context.Context, generation string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, entry := range s.generations[generation] {
		total += int64(len(entry.Body))
	}
	return total, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{Status: in.Status}
	if len(in.Headers) > 0 {
		out.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			out.Headers[k] = v
		}
	}
	if len(in.Body) > 0 {
		out.Body = make([]byte, len(in.Body))
		copy(out.Body, in.Body)
	}
	return out
}
