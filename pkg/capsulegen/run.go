package capsulegen

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
	"github.com/caplearn/capsulegen/pkg/capsulegen/stage"
)

// Run is one generation run: the pipeline position, the accumulated
// artifacts, and the abort flag. A Run is driven by a single goroutine;
// only Abort may be called from elsewhere.
type Run struct {
	g          *Generator
	id         string
	input      Input
	machine    *Machine
	onProgress ProgressFunc
	aborted    atomic.Bool
	logger     *slog.Logger

	outline *capsule.Outline
	plans   []capsule.ModulePlan
	lessons [][]capsule.Lesson
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) RunOption {
	return func(r *Run) { r.onProgress = fn }
}

// WithRunID sets an external run identifier instead of a generated one.
func WithRunID(id string) RunOption {
	return func(r *Run) { r.id = id }
}

// NewRun creates an idle run for the given input.
func (g *Generator) NewRun(input Input, opts ...RunOption) *Run {
	r := &Run{
		g:       g,
		id:      uuid.NewString(),
		input:   input,
		machine: NewMachine(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = g.logger.With(slog.String("run_id", r.id))
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Abort requests cooperative cancellation. The run stops at the next
// stage, module, or lesson boundary, or at the next suspension point.
func (r *Run) Abort() {
	r.aborted.Store(true)
}

// Progress returns a copy of the current progress.
func (r *Run) Progress() GenerationProgress {
	return r.machine.Progress()
}

// Generate drives the run to completion, failure, or abort.
//
// Stages run sequentially, modules and lessons within them sequentially
// too; lesson content calls carry the titles of prior lessons for
// narrative coherence. A retriable stage failure is re-run up to the
// configured stage retry budget with a linearly growing delay. Exhaustion
// fails the whole run; no partial lessons are synthesized.
func (r *Run) Generate(ctx context.Context) *GenerationResult {
	started := time.Now()
	ctx, span := r.g.spans.StartGenerationSpan(ctx, r.id, string(r.input.SourceType))
	observability.LogGenerationStart(r.logger, r.id, string(r.input.SourceType))

	res := r.drive(ctx)

	elapsed := time.Since(started)
	r.g.metrics.RecordGeneration(ctx, res.Success, elapsed)
	switch {
	case res.Success:
		observability.LogGenerationComplete(r.logger, r.id,
			float64(elapsed.Milliseconds()), res.Capsule.LessonCount(), res.Progress.Usage.TotalTokens)
		r.g.spans.EndSpanWithError(span, nil)
	case res.Aborted:
		observability.LogGenerationAborted(r.logger, r.id, string(res.Progress.State))
		r.g.spans.EndSpanWithError(span, nil)
	default:
		observability.LogGenerationError(r.logger, r.id, string(res.Progress.State),
			res.Err, float64(elapsed.Milliseconds()))
		r.g.spans.EndSpanWithError(span, res.Err)
	}
	return res
}

func (r *Run) drive(ctx context.Context) *GenerationResult {
	if r.isAborted(ctx) {
		return r.abortedResult()
	}

	// Stage 1: outline.
	if !r.machine.Progress().OutlineGenerated {
		if err := r.advance(StateOutlining); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		r.notify("generating outline")
		if err := r.runOutline(ctx); err != nil {
			if r.isAborted(ctx) {
				return r.abortedResult()
			}
			return r.fail(ctx, err)
		}
		r.machine.OutlineDone(len(r.outline.Modules), r.outline.TotalLessons())
		if err := r.advance(StateOutlineComplete); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		r.notify("outline complete")
		r.snapshot(ctx)
	}

	// Stage 2: one lesson plan per module.
	if r.machine.Progress().PlansGenerated < r.machine.Progress().TotalModules {
		if err := r.advance(StatePlanning); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		r.notify("planning lessons")
		for mi := len(r.plans); mi < len(r.outline.Modules); mi++ {
			if r.isAborted(ctx) {
				return r.abortedResult()
			}
			plan, err := r.runPlan(ctx, mi)
			if err != nil {
				if r.isAborted(ctx) {
					return r.abortedResult()
				}
				return r.fail(ctx, err)
			}
			r.plans = append(r.plans, plan)
			r.machine.PlanDone()
			r.notify(fmt.Sprintf("module %d planned", mi+1))
			r.snapshot(ctx)
		}
		// Module plans may differ from the outline's counts; the realized
		// plans win.
		total := 0
		for _, p := range r.plans {
			total += len(p.Lessons)
		}
		r.machine.SetTotalLessons(total)
		if err := r.advance(StatePlansComplete); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		r.notify("lesson plans complete")
		r.snapshot(ctx)
	}

	// Stage 3: content for every lesson, in order.
	if r.machine.Progress().LessonsGenerated < r.machine.Progress().TotalLessons {
		if err := r.advance(StateWritingContent); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		r.notify("generating lesson content")
		for len(r.lessons) < len(r.plans) {
			r.lessons = append(r.lessons, nil)
		}
		for mi, plan := range r.plans {
			for li := len(r.lessons[mi]); li < len(plan.Lessons); li++ {
				if r.isAborted(ctx) {
					return r.abortedResult()
				}
				lesson, err := r.runContent(ctx, mi, li)
				if err != nil {
					if r.isAborted(ctx) {
						return r.abortedResult()
					}
					return r.fail(ctx, err)
				}
				r.lessons[mi] = append(r.lessons[mi], lesson)
				r.machine.LessonDone(mi, li)
				r.notify(fmt.Sprintf("lesson %d of module %d complete", li+1, mi+1))
				r.snapshot(ctx)
			}
		}
	}

	if r.machine.State() != StateCompleted {
		if err := r.advance(StateContentComplete); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
		if err := r.advance(StateCompleted); err != nil {
			return r.fail(ctx, generr.FromError(err, nil))
		}
	}
	r.notify("generation complete")
	r.discardSnapshot(ctx)

	return &GenerationResult{
		RunID:    r.id,
		Success:  true,
		Capsule:  r.assemble(),
		Progress: r.machine.Progress(),
	}
}

func (r *Run) runOutline(ctx context.Context) *generr.Error {
	req := stage.OutlineRequest{
		Source:            r.input.SourceType,
		Topic:             r.input.Topic,
		Attachment:        r.input.Attachment,
		AttachmentMIME:    r.input.AttachmentMIME,
		Difficulty:        r.difficulty(),
		Guidance:          r.input.Guidance,
		TargetModuleCount: r.input.TargetModuleCount,
	}
	var out capsule.Outline
	err := r.retryStage(ctx, stage.NameOutline, func() (bool, *generr.Error) {
		res := r.g.exec.Outline(ctx, req)
		r.machine.AddUsage(res.Tokens)
		if !res.Success() {
			return res.Retriable, res.Err
		}
		out = res.Payload
		return false, nil
	})
	if err != nil {
		return err
	}
	r.outline = &out
	return nil
}

func (r *Run) runPlan(ctx context.Context, moduleIndex int) (capsule.ModulePlan, *generr.Error) {
	req := stage.PlanRequest{
		CourseTitle: r.outline.Title,
		Module:      r.outline.Modules[moduleIndex],
		ModuleIndex: moduleIndex,
		Difficulty:  r.difficulty(),
		Guidance:    r.input.Guidance,
	}
	var plan capsule.ModulePlan
	err := r.retryStage(ctx, stage.NamePlan, func() (bool, *generr.Error) {
		res := r.g.exec.Plan(ctx, req)
		r.machine.AddUsage(res.Tokens)
		if !res.Success() {
			return res.Retriable, res.Err.With("module", moduleIndex)
		}
		plan = res.Payload
		return false, nil
	})
	return plan, err
}

func (r *Run) runContent(ctx context.Context, moduleIndex, lessonIndex int) (capsule.Lesson, *generr.Error) {
	stub := r.plans[moduleIndex].Lessons[lessonIndex]
	req := stage.ContentRequest{
		CourseTitle:  r.outline.Title,
		ModuleTitle:  r.outline.Modules[moduleIndex].Title,
		ModuleIndex:  moduleIndex,
		LessonIndex:  lessonIndex,
		Lesson:       stub,
		Difficulty:   r.difficulty(),
		PriorLessons: r.priorLessons(moduleIndex, lessonIndex),
	}
	var content capsule.LessonContent
	err := r.retryStage(ctx, stage.NameContent, func() (bool, *generr.Error) {
		res := r.g.exec.Content(ctx, req)
		r.machine.AddUsage(res.Tokens)
		if !res.Success() {
			return res.Retriable, res.Err.WithContext(map[string]any{
				"module": moduleIndex,
				"lesson": lessonIndex,
			})
		}
		content = res.Payload
		return false, nil
	})
	if err != nil {
		return capsule.Lesson{}, err
	}
	return capsule.Lesson{
		Title:     stub.Title,
		Type:      stub.Type,
		Objective: stub.Objective,
		Content:   content.Payload,
	}, nil
}

// priorLessons lists every lesson generated before the given one, across
// the whole course, for prompt continuity. Modules run sequentially, so
// all lessons of earlier modules precede the current one.
func (r *Run) priorLessons(moduleIndex, lessonIndex int) []stage.PriorLesson {
	var prior []stage.PriorLesson
	for mi := 0; mi < moduleIndex; mi++ {
		for _, stub := range r.plans[mi].Lessons {
			prior = append(prior, stage.PriorLesson{Title: stub.Title, Type: stub.Type})
		}
	}
	for li := 0; li < lessonIndex; li++ {
		stub := r.plans[moduleIndex].Lessons[li]
		prior = append(prior, stage.PriorLesson{Title: stub.Title, Type: stub.Type})
	}
	return prior
}

// retryStage re-runs a stage call while its failures stay retriable,
// sleeping retryDelay * attempt between attempts.
func (r *Run) retryStage(ctx context.Context, name stage.Name, call func() (bool, *generr.Error)) *generr.Error {
	for attempt := 1; ; attempt++ {
		retriable, err := call()
		if err == nil {
			return nil
		}
		if r.isAborted(ctx) || !retriable || attempt > r.g.stageRetries {
			return err
		}
		observability.LogStageRetry(r.logger, string(name), attempt, err)
		if serr := r.g.sleep(ctx, r.g.retryDelay*time.Duration(attempt)); serr != nil {
			return generr.Wrap(generr.KindCancelled, "cancelled during stage retry delay", serr)
		}
	}
}

// advance transitions to the target state unless the run is already there.
// Resumed runs re-enter the pipeline mid-stage.
func (r *Run) advance(to State) error {
	if r.machine.State() == to {
		return nil
	}
	return r.machine.Transition(to)
}

func (r *Run) isAborted(ctx context.Context) bool {
	return r.aborted.Load() || ctx.Err() != nil
}

func (r *Run) notify(message string) {
	if r.onProgress != nil {
		r.onProgress(r.machine.Progress(), message)
	}
}

func (r *Run) difficulty() string {
	if r.input.Difficulty != "" {
		return r.input.Difficulty
	}
	return r.g.difficulty
}

func (r *Run) fail(ctx context.Context, err *generr.Error) *GenerationResult {
	if ferr := r.machine.Fail(err); ferr != nil {
		r.logger.Error("state machine rejected failure transition",
			slog.String("error", ferr.Error()))
	}
	r.snapshot(ctx)
	return &GenerationResult{
		RunID:    r.id,
		Progress: r.machine.Progress(),
		Err:      err,
	}
}

func (r *Run) abortedResult() *GenerationResult {
	return &GenerationResult{
		RunID:    r.id,
		Aborted:  true,
		Progress: r.machine.Progress(),
	}
}

func (r *Run) assemble() *capsule.Capsule {
	c := &capsule.Capsule{
		Title:       r.outline.Title,
		Description: r.outline.Description,
	}
	for mi, stub := range r.outline.Modules {
		c.Modules = append(c.Modules, capsule.Module{
			Title:       stub.Title,
			Description: stub.Description,
			Lessons:     r.lessons[mi],
		})
	}
	return c
}
