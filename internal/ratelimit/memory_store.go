package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
	size  time.Duration
}

func (w *window) elapsed(now time.Time) bool {
	return now.After(w.start.Add(w.size))
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Hit implements Store. A window that has fully elapsed restarts at now.
func (s *MemoryStore) Hit(_ context.Context, key string, size time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.elapsed(now) {
		w = &window{start: now, size: size}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.start.Add(w.size), nil
}

// Sweep drops windows that ended before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.elapsed(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
