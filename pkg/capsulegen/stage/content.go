package stage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// PriorLesson summarizes an already-generated lesson for prompt continuity.
type PriorLesson struct {
	Title string
	Type  capsule.LessonType
}

// ContentRequest is the input to the lesson-content stage for one lesson.
type ContentRequest struct {
	CourseTitle  string
	ModuleTitle  string
	ModuleIndex  int
	LessonIndex  int
	Lesson       capsule.LessonStub
	Difficulty   string
	PriorLessons []PriorLesson
}

func (r ContentRequest) validate() error {
	if strings.TrimSpace(r.Lesson.Title) == "" {
		return generr.New(generr.KindInvalidInput, "content request missing lesson title")
	}
	if !r.Lesson.Type.Known() {
		return generr.Newf(generr.KindUnsupported, "unsupported lesson type %q", r.Lesson.Type)
	}
	return nil
}

// Content runs the lesson-content stage for one lesson. The payload is
// decoded loosely, then validated against the rules for the lesson's
// pedagogical type before being frozen as raw JSON.
func (e *Executor) Content(ctx context.Context, req ContentRequest) (res Result[capsule.LessonContent]) {
	started := time.Now()
	observability.LogStageStart(e.Logger, string(NameContent))
	ctx, span := e.Spans.StartStageSpan(ctx, string(NameContent))
	defer func() { e.Spans.EndSpanWithError(span, spanErr(res.Err)) }()

	if err := req.validate(); err != nil {
		e.Metrics.RecordStage(ctx, string(NameContent), time.Since(started), err)
		return failure[capsule.LessonContent](err, llm.Usage{}, started, 0, false)
	}

	call := llm.Request{
		System:     contentSystem,
		User:       contentPrompt(req),
		SchemaHint: contentSchemaHints[req.Lesson.Type],
	}

	ext, usage, attempts, err := callAndExtract[json.RawMessage](ctx, e, NameContent, call, llm.CallOptions{})
	if err != nil {
		e.Metrics.RecordStage(ctx, string(NameContent), time.Since(started), err)
		return failure[capsule.LessonContent](err, usage, started, attempts, stageRetriable(err))
	}

	if err := capsule.ValidateContent(req.Lesson.Type, ext.Value); err != nil {
		e.Metrics.RecordStage(ctx, string(NameContent), time.Since(started), err)
		return failure[capsule.LessonContent](err, usage, started, attempts, true)
	}

	e.Metrics.RecordStage(ctx, string(NameContent), time.Since(started), nil)
	observability.LogStageComplete(e.Logger, string(NameContent),
		float64(time.Since(started).Milliseconds()), usage.TotalTokens)
	return success(capsule.LessonContent{Payload: ext.Value}, usage, started, attempts)
}
