// Package checkpoint persists run snapshots so interrupted generations
// can resume without repeating completed provider calls.
//
// Unlike an event log, a run keeps exactly one snapshot: each save
// replaces the previous one. The snapshot payload is opaque here; the
// orchestrator owns its shape and the envelope carries the format
// version for forward compatibility.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists one snapshot per run.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the snapshot for a run, replacing any previous one.
	Save(ctx context.Context, runID string, data []byte) error

	// Load retrieves a run's snapshot.
	// Returns ErrNotFound if the run has no snapshot.
	Load(ctx context.Context, runID string) ([]byte, error)

	// List returns metadata for all stored runs, most recent first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a run's snapshot. Deleting a missing run is not an
	// error.
	Delete(ctx context.Context, runID string) error

	// Close releases any resources.
	Close() error
}

// Info is snapshot metadata without the payload.
type Info struct {
	RunID   string
	SavedAt time.Time
	Size    int64
}

// Sentinel errors for snapshot operations.
var (
	// ErrNotFound indicates no snapshot exists for the run.
	ErrNotFound = errors.New("run snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")

	// ErrVersionMismatch indicates the stored snapshot uses an
	// incompatible format version.
	ErrVersionMismatch = errors.New("snapshot format version mismatch")
)
