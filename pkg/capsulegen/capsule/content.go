package capsule

// Per-type content payloads. The provider returns one of these as the
// lesson content payload; which one is dictated by the lesson stub's type.

// ConceptContent is expository teaching text.
type ConceptContent struct {
	Body      string   `json:"body"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// MultipleChoiceContent is a quiz of single-answer questions.
type MultipleChoiceContent struct {
	Questions []MCQuestion `json:"questions"`
}

// MCQuestion is one multiple-choice question.
type MCQuestion struct {
	Prompt       string   `json:"prompt"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
}

// FillBlanksContent is instructional text with cloze blanks.
// The text references blanks as {{id}}; every referenced id must have a
// corresponding entry in Blanks.
type FillBlanksContent struct {
	Text   string  `json:"text"`
	Blanks []Blank `json:"blanks"`
}

// Blank is one cloze entry.
type Blank struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
	Hint   string `json:"hint,omitempty"`
}

// DragDropContent is a matching exercise.
type DragDropContent struct {
	Instructions string       `json:"instructions"`
	Items        []DragItem   `json:"items"`
	Targets      []DropTarget `json:"targets"`
}

// DragItem is a draggable element.
type DragItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DropTarget is a drop zone accepting exactly one item.
type DropTarget struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Accepts string `json:"accepts"`
}

// SimulationContent is a guided interactive scenario.
type SimulationContent struct {
	Scenario string    `json:"scenario"`
	Steps    []SimStep `json:"steps"`
}

// SimStep is one step of a simulation.
type SimStep struct {
	Prompt         string `json:"prompt"`
	ExpectedAction string `json:"expected_action"`
	Feedback       string `json:"feedback,omitempty"`
}
