package stage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// PlanRequest is the input to the lesson-plan stage for one module.
type PlanRequest struct {
	CourseTitle string
	Module      capsule.ModuleStub
	ModuleIndex int
	Difficulty  string
	Guidance    string
}

func (r PlanRequest) validate() error {
	if strings.TrimSpace(r.CourseTitle) == "" {
		return generr.New(generr.KindInvalidInput, "plan request missing course title")
	}
	if strings.TrimSpace(r.Module.Title) == "" {
		return generr.New(generr.KindInvalidInput, "plan request missing module title")
	}
	if r.Module.LessonCount < capsule.MinLessonsPerModule || r.Module.LessonCount > capsule.MaxLessonsPerModule {
		return generr.Newf(generr.KindInvalidInput, "module plans %d lessons, want %d-%d",
			r.Module.LessonCount, capsule.MinLessonsPerModule, capsule.MaxLessonsPerModule)
	}
	return nil
}

// Plan runs the lesson-plan stage for one module.
//
// A lesson count differing from the outline's plan is tolerated: the
// model sometimes merges or splits lessons, and the realized plan wins.
// The mismatch is logged, not failed.
func (e *Executor) Plan(ctx context.Context, req PlanRequest) (res Result[capsule.ModulePlan]) {
	started := time.Now()
	observability.LogStageStart(e.Logger, string(NamePlan))
	ctx, span := e.Spans.StartStageSpan(ctx, string(NamePlan))
	defer func() { e.Spans.EndSpanWithError(span, spanErr(res.Err)) }()

	if err := req.validate(); err != nil {
		e.Metrics.RecordStage(ctx, string(NamePlan), time.Since(started), err)
		return failure[capsule.ModulePlan](err, llm.Usage{}, started, 0, false)
	}

	call := llm.Request{
		System:     planSystem,
		User:       planPrompt(req),
		SchemaHint: planSchemaHint,
	}

	ext, usage, attempts, err := callAndExtract[capsule.ModulePlan](ctx, e, NamePlan, call, llm.CallOptions{})
	if err != nil {
		e.Metrics.RecordStage(ctx, string(NamePlan), time.Since(started), err)
		return failure[capsule.ModulePlan](err, usage, started, attempts, stageRetriable(err))
	}

	if err := capsule.ValidatePlan(ext.Value); err != nil {
		e.Metrics.RecordStage(ctx, string(NamePlan), time.Since(started), err)
		return failure[capsule.ModulePlan](err, usage, started, attempts, true)
	}

	if got := len(ext.Value.Lessons); got != req.Module.LessonCount {
		e.Logger.Warn("module plan lesson count differs from outline",
			slog.String("module", req.Module.Title),
			slog.Int("planned", req.Module.LessonCount),
			slog.Int("got", got),
		)
	}

	e.Metrics.RecordStage(ctx, string(NamePlan), time.Since(started), nil)
	observability.LogStageComplete(e.Logger, string(NamePlan),
		float64(time.Since(started).Milliseconds()), usage.TotalTokens)
	return success(ext.Value, usage, started, attempts)
}
