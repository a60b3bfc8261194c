package storage

import (
	"context"
	"maps"
	"sync"
)

// memStore keeps buckets in maps. fileStore embeds it for its working set.
type memStore struct {
	mu   sync.Mutex
	data map[string]Buckets
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory() Store {
	return &memStore{data: map[string]Buckets{}}
}

func (s *memStore) Increment(_ context.Context, contact, day string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incLocked(contact, day, n)
	return nil
}

func (s *memStore) incLocked(contact, day string, n int) {
	b := s.data[contact]
	if b == nil {
		b = Buckets{}
		s.data[contact] = b
	}
	b[day] += n
}

func (s *memStore) Buckets(_ context.Context, contact string) (Buckets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data[contact]), nil
}

func (s *memStore) All(_ context.Context) (map[string]Buckets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *memStore) snapshotLocked() map[string]Buckets {
	out := make(map[string]Buckets, len(s.data))
	for c, b := range s.data {
		out[c] = maps.Clone(b)
	}
	return out
}

func (s *memStore) PruneBefore(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(day), nil
}

func (s *memStore) pruneLocked(day string) int {
	n := 0
	for c, b := range s.data {
		for d := range b {
			if d < day {
				delete(b, d)
				n++
			}
		}
		if len(b) == 0 {
			delete(s.data, c)
		}
	}
	return n
}

func (s *memStore) DeleteContact(_ context.Context, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, contact)
	return nil
}

func (s *memStore) Close() error { return nil }
