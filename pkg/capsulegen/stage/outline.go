package stage

import (
	"context"
	"strings"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// OutlineRequest is the input to the outline stage.
type OutlineRequest struct {
	// Source selects topic-driven or document-driven generation.
	Source SourceType

	// Topic is the course subject. Required when Source is topic.
	Topic string

	// Attachment is the source document. Required when Source is document.
	Attachment     []byte
	AttachmentMIME string

	// Difficulty is a free-form difficulty label, e.g. "beginner".
	Difficulty string

	// Guidance is optional extra direction for the designer prompt.
	Guidance string

	// TargetModuleCount is a soft target within the allowed bounds.
	// Zero leaves the choice to the model.
	TargetModuleCount int
}

func (r OutlineRequest) validate() error {
	switch r.Source {
	case SourceTopic:
		if strings.TrimSpace(r.Topic) == "" {
			return generr.New(generr.KindInvalidInput, "topic source requires a non-empty topic")
		}
	case SourceDocument:
		if len(r.Attachment) == 0 {
			return generr.New(generr.KindInvalidInput, "document source requires an attachment")
		}
	default:
		return generr.Newf(generr.KindInvalidInput, "unknown source type %q", r.Source)
	}
	if r.TargetModuleCount != 0 &&
		(r.TargetModuleCount < capsule.MinModules || r.TargetModuleCount > capsule.MaxModules) {
		return generr.Newf(generr.KindInvalidInput, "target module count %d outside %d-%d",
			r.TargetModuleCount, capsule.MinModules, capsule.MaxModules)
	}
	return nil
}

// Outline runs the outline stage: one provider call producing the course
// skeleton, validated against the structural bounds.
func (e *Executor) Outline(ctx context.Context, req OutlineRequest) (res Result[capsule.Outline]) {
	started := time.Now()
	observability.LogStageStart(e.Logger, string(NameOutline))
	ctx, span := e.Spans.StartStageSpan(ctx, string(NameOutline))
	defer func() { e.Spans.EndSpanWithError(span, spanErr(res.Err)) }()

	if err := req.validate(); err != nil {
		e.Metrics.RecordStage(ctx, string(NameOutline), time.Since(started), err)
		return failure[capsule.Outline](err, llm.Usage{}, started, 0, false)
	}

	call := llm.Request{
		System:         outlineSystem,
		User:           outlinePrompt(req),
		Attachment:     req.Attachment,
		AttachmentMIME: req.AttachmentMIME,
		SchemaHint:     outlineSchemaHint,
	}

	ext, usage, attempts, err := callAndExtract[capsule.Outline](ctx, e, NameOutline, call, llm.CallOptions{})
	if err != nil {
		e.Metrics.RecordStage(ctx, string(NameOutline), time.Since(started), err)
		return failure[capsule.Outline](err, usage, started, attempts, stageRetriable(err))
	}

	if err := capsule.ValidateOutline(ext.Value); err != nil {
		e.Metrics.RecordStage(ctx, string(NameOutline), time.Since(started), err)
		return failure[capsule.Outline](err, usage, started, attempts, true)
	}

	e.Metrics.RecordStage(ctx, string(NameOutline), time.Since(started), nil)
	observability.LogStageComplete(e.Logger, string(NameOutline),
		float64(time.Since(started).Milliseconds()), usage.TotalTokens)
	return success(ext.Value, usage, started, attempts)
}
