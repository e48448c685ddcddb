package capsulegen

import (
	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/stage"
)

// Input describes what to generate a capsule from.
type Input struct {
	// SourceType selects topic-driven or document-driven generation.
	SourceType stage.SourceType `json:"source_type"`

	// Topic is the course subject. Required for the topic source.
	Topic string `json:"topic,omitempty"`

	// Attachment is the source document. Required for the document source.
	Attachment     []byte `json:"attachment,omitempty"`
	AttachmentMIME string `json:"attachment_mime,omitempty"`

	// Difficulty is a free-form difficulty label. Empty selects the
	// generator's default.
	Difficulty string `json:"difficulty,omitempty"`

	// Guidance is optional extra direction passed to every stage prompt.
	Guidance string `json:"guidance,omitempty"`

	// TargetModuleCount is a soft target for the outline. Zero leaves the
	// choice to the model.
	TargetModuleCount int `json:"target_module_count,omitempty"`
}

// TopicInput builds a topic-sourced input.
func TopicInput(topic string) Input {
	return Input{SourceType: stage.SourceTopic, Topic: topic}
}

// DocumentInput builds a document-sourced input.
func DocumentInput(attachment []byte, mime string) Input {
	return Input{SourceType: stage.SourceDocument, Attachment: attachment, AttachmentMIME: mime}
}

// ProgressFunc receives progress after every stage transition and after
// every module or lesson completion.
type ProgressFunc func(p GenerationProgress, message string)

// GenerationResult is the outcome of one generation run.
type GenerationResult struct {
	// RunID identifies the run, for resumption and snapshot lookup.
	RunID string `json:"run_id"`

	// Success is true when a complete capsule was assembled.
	Success bool `json:"success"`

	// Aborted is true when the run stopped on an external abort request.
	// An aborted run is neither a success nor a failure.
	Aborted bool `json:"aborted"`

	// Capsule is the assembled course. Non-nil only on success.
	Capsule *capsule.Capsule `json:"capsule,omitempty"`

	// Progress is the final progress bookkeeping.
	Progress GenerationProgress `json:"progress"`

	// Err is the originating failure. Non-nil only when Success and
	// Aborted are both false.
	Err *generr.Error `json:"error,omitempty"`
}
