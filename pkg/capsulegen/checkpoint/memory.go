package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory snapshot store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]storedSnapshot
	closed bool
}

type storedSnapshot struct {
	data    []byte
	savedAt time.Time
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]storedSnapshot)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, runID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy so the caller's slice is not retained.
	stored := make([]byte, len(data))
	copy(stored, data)

	m.runs[runID] = storedSnapshot{data: stored, savedAt: time.Now().UTC()}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, runID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	s, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(s.data))
	copy(result, s.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(m.runs))
	for runID, s := range m.runs {
		infos = append(infos, Info{
			RunID:   runID,
			SavedAt: s.savedAt,
			Size:    int64(len(s.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SavedAt.After(infos[j].SavedAt)
	})
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.runs, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the number of stored runs. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
