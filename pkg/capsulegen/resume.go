package capsulegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/checkpoint"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// runState is the snapshot payload: everything needed to rebuild a Run.
type runState struct {
	Input    Input                `json:"input"`
	Progress GenerationProgress   `json:"progress"`
	Outline  *capsule.Outline     `json:"outline,omitempty"`
	Plans    []capsule.ModulePlan `json:"plans,omitempty"`
	Lessons  [][]capsule.Lesson   `json:"lessons,omitempty"`
}

// snapshot persists the run state. Snapshot failures are logged, never
// fatal: losing resumability is better than failing a healthy run.
func (r *Run) snapshot(ctx context.Context) {
	if r.g.snapshots == nil {
		return
	}
	data, err := checkpoint.Seal(r.id, runState{
		Input:    r.input,
		Progress: r.machine.Progress(),
		Outline:  r.outline,
		Plans:    r.plans,
		Lessons:  r.lessons,
	})
	if err != nil {
		observability.LogSnapshotError(r.logger, r.id, "seal", err)
		return
	}
	if err := r.g.snapshots.Save(ctx, r.id, data); err != nil {
		observability.LogSnapshotError(r.logger, r.id, "save", err)
		return
	}
	observability.LogSnapshot(r.logger, r.id, len(data))
}

// discardSnapshot removes the snapshot once a run completed.
func (r *Run) discardSnapshot(ctx context.Context) {
	if r.g.snapshots == nil {
		return
	}
	if err := r.g.snapshots.Delete(ctx, r.id); err != nil {
		observability.LogSnapshotError(r.logger, r.id, "delete", err)
	}
}

// ResumeRun rebuilds a failed run from its snapshot and moves it to the
// stage it should pick up at. Completed work is not redone: the returned
// run continues from the persisted cursors when Generate is called.
func (g *Generator) ResumeRun(ctx context.Context, runID string, opts ...RunOption) (*Run, error) {
	if g.snapshots == nil {
		return nil, fmt.Errorf("no snapshot store configured")
	}

	data, err := g.snapshots.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	snap, err := checkpoint.Open(data)
	if err != nil {
		return nil, fmt.Errorf("open run %s snapshot: %w", runID, err)
	}

	var state runState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, fmt.Errorf("decode run %s state: %w", runID, err)
	}

	r := &Run{
		g:       g,
		id:      runID,
		input:   state.Input,
		machine: restoreMachine(state.Progress),
		outline: state.Outline,
		plans:   state.Plans,
		lessons: state.Lessons,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = g.logger.With(slog.String("run_id", r.id))

	target, err := r.machine.Resume()
	if err != nil {
		return nil, fmt.Errorf("resume run %s: %w", runID, err)
	}
	r.logger.Info("run resumed",
		slog.String("state", string(target)),
		slog.Int("retry_count", r.machine.Progress().RetryCount),
	)
	return r, nil
}
