package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current snapshot format version.
// Increment on breaking changes to the envelope or payload shape.
const Version = 1

// Snapshot is the versioned envelope around an opaque run state payload.
type Snapshot struct {
	Version int             `json:"version"`
	RunID   string          `json:"run_id"`
	SavedAt time.Time       `json:"saved_at"`
	State   json.RawMessage `json:"state"`
}

// Seal wraps a run state payload in a versioned envelope and serializes it.
func Seal(runID string, state any) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal run state: %w", err)
	}
	return json.Marshal(Snapshot{
		Version: Version,
		RunID:   runID,
		SavedAt: time.Now().UTC(),
		State:   raw,
	})
}

// Open deserializes a snapshot envelope and checks its format version.
func Open(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: stored %d, supported %d", ErrVersionMismatch, s.Version, Version)
	}
	return &s, nil
}
