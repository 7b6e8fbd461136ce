package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/climate-crop-forecast/internal/forecast"
)

var (
	// ErrNotFound is returned when no run exists for an id.
	ErrNotFound = errors.New("run not found")
	// ErrFull is returned when the registry is at capacity and every run is still in flight.
	ErrFull = errors.New("too many runs in flight")
)

// MemoryStore is a concurrency-safe in-memory run registry.
type MemoryStore struct {
	mu sync.RWMutex

	// key: run id
	data map[string]*forecast.Run

	// maxRecords caps the number of runs held (<= 0 means unlimited).
	maxRecords int
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore(maxRecords int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*forecast.Run),
		maxRecords: maxRecords,
	}
}

// Save adds a run. When the registry is full the oldest finished run is
// dropped to make room.
func (s *MemoryStore) Save(run forecast.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.ID]; !exists && s.maxRecords > 0 && len(s.data) >= s.maxRecords {
		if !s.dropOldestFinished() {
			return ErrFull
		}
	}

	r := run
	s.data[run.ID] = &r
	return nil
}

// dropOldestFinished must be called with the write lock held.
func (s *MemoryStore) dropOldestFinished() bool {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, r := range s.data {
		if !r.Status.Finished() {
			continue
		}
		if oldestID == "" || r.UpdatedAt.Before(oldest) {
			oldestID, oldest = id, r.UpdatedAt
		}
	}
	if oldestID == "" {
		return false
	}
	delete(s.data, oldestID)
	return true
}

// Get returns a copy of the run with the given id.
func (s *MemoryStore) Get(id string) (forecast.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return forecast.Run{}, ErrNotFound
	}
	return *r, nil
}

// Update applies fn to the stored run under the write lock and returns the result.
func (s *MemoryStore) Update(id string, fn func(*forecast.Run)) (forecast.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[id]
	if !ok {
		return forecast.Run{}, ErrNotFound
	}
	fn(r)
	return *r, nil
}

// Evict removes finished runs that ended before cutoff.
func (s *MemoryStore) Evict(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.data {
		if !r.Status.Finished() {
			continue
		}
		ended := r.UpdatedAt
		if r.FinishedAt != nil {
			ended = *r.FinishedAt
		}
		if ended.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n
}

// List returns every run, newest first.
func (s *MemoryStore) List() []forecast.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]forecast.Run, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of runs held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
