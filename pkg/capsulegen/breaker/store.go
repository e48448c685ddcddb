package breaker

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the persisted circuit state for one provider.
// Entries are created lazily on first reference and never destroyed.
type Snapshot struct {
	// State is the circuit state. Empty means closed (never referenced).
	State State `json:"state"`

	// Failures is the failure count within the current window.
	Failures int `json:"failures"`

	// Successes counts consecutive successes. Meaningful only half-open.
	Successes int `json:"successes"`

	// LastFailureAt is when the most recent failure was recorded.
	LastFailureAt time.Time `json:"last_failure_at"`

	// LastTransitionAt is when the state last changed.
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// Store persists per-provider circuit state.
//
// Update must apply fn atomically with respect to other updates for the
// same provider. Implementations need no cross-provider coordination.
type Store interface {
	// Get returns the snapshot for a provider, zero-valued if unseen.
	Get(ctx context.Context, provider string) (Snapshot, error)

	// Update atomically applies fn to the provider's snapshot and
	// persists the result, returning the updated snapshot.
	Update(ctx context.Context, provider string, fn func(*Snapshot)) (Snapshot, error)
}

// MemoryStore keeps circuit state in process memory.
// It is the single-instance reference implementation; use RedisStore when
// multiple processes share providers.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) entry(provider string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[provider]
	if !ok {
		e = &memoryEntry{snap: Snapshot{State: StateClosed}}
		m.entries[provider] = e
	}
	return e
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, provider string) (Snapshot, error) {
	e := m.entry(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, provider string, fn func(*Snapshot)) (Snapshot, error) {
	e := m.entry(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.snap)
	return e.snap, nil
}
