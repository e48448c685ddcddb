package capsule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
)

// blankRef matches {{id}} references in fill-blanks text.
var blankRef = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\s*\}\}`)

// ValidateOutline checks an outline against the structural bounds:
// 2-5 modules, each planning 3-6 lessons, all titles present.
func ValidateOutline(o Outline) error {
	if strings.TrimSpace(o.Title) == "" {
		return schemaErr("outline title is empty")
	}
	if n := len(o.Modules); n < MinModules || n > MaxModules {
		return schemaErr(fmt.Sprintf("outline has %d modules, want %d-%d", n, MinModules, MaxModules))
	}
	for i, m := range o.Modules {
		if strings.TrimSpace(m.Title) == "" {
			return schemaErr(fmt.Sprintf("module %d title is empty", i))
		}
		if m.LessonCount < MinLessonsPerModule || m.LessonCount > MaxLessonsPerModule {
			return schemaErr(fmt.Sprintf("module %d plans %d lessons, want %d-%d",
				i, m.LessonCount, MinLessonsPerModule, MaxLessonsPerModule))
		}
	}
	return nil
}

// ValidatePlan checks a module plan's lesson stubs.
// The lesson count itself is NOT checked here: a count mismatch against
// the outline is deliberately lenient and handled by the caller.
func ValidatePlan(p ModulePlan) error {
	if len(p.Lessons) == 0 {
		return schemaErr("module plan has no lessons")
	}
	for i, l := range p.Lessons {
		if strings.TrimSpace(l.Title) == "" {
			return schemaErr(fmt.Sprintf("lesson %d title is empty", i))
		}
		if !l.Type.Known() {
			return schemaErr(fmt.Sprintf("lesson %d has unknown type %q", i, l.Type))
		}
	}
	return nil
}

// ValidateContent checks a content payload against the rules for the
// lesson's pedagogical type.
func ValidateContent(t LessonType, payload json.RawMessage) error {
	if len(payload) == 0 {
		return schemaErr("content payload is empty")
	}
	switch t {
	case TypeConcept:
		var c ConceptContent
		if err := json.Unmarshal(payload, &c); err != nil {
			return mismatchErr(t, err)
		}
		if strings.TrimSpace(c.Body) == "" {
			return schemaErr("concept body is empty")
		}
	case TypeMultipleChoice:
		var c MultipleChoiceContent
		if err := json.Unmarshal(payload, &c); err != nil {
			return mismatchErr(t, err)
		}
		if len(c.Questions) == 0 {
			return schemaErr("multiple-choice content has no questions")
		}
		for i, q := range c.Questions {
			if len(q.Choices) < 2 {
				return schemaErr(fmt.Sprintf("question %d has %d choices, want at least 2", i, len(q.Choices)))
			}
			if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
				return schemaErr(fmt.Sprintf("question %d correct_index %d out of range", i, q.CorrectIndex))
			}
		}
	case TypeFillBlanks:
		var c FillBlanksContent
		if err := json.Unmarshal(payload, &c); err != nil {
			return mismatchErr(t, err)
		}
		return validateFillBlanks(c)
	case TypeDragDrop:
		var c DragDropContent
		if err := json.Unmarshal(payload, &c); err != nil {
			return mismatchErr(t, err)
		}
		return validateDragDrop(c)
	case TypeSimulation:
		var c SimulationContent
		if err := json.Unmarshal(payload, &c); err != nil {
			return mismatchErr(t, err)
		}
		if strings.TrimSpace(c.Scenario) == "" {
			return schemaErr("simulation scenario is empty")
		}
		if len(c.Steps) == 0 {
			return schemaErr("simulation has no steps")
		}
	default:
		return generr.Newf(generr.KindUnsupported, "unsupported lesson type %q", t)
	}
	return nil
}

// validateFillBlanks enforces the cross-reference rule: every blank id
// referenced in the text must have an entry in the blanks list.
func validateFillBlanks(c FillBlanksContent) error {
	if strings.TrimSpace(c.Text) == "" {
		return schemaErr("fill-blanks text is empty")
	}
	if len(c.Blanks) == 0 {
		return schemaErr("fill-blanks content has no blanks")
	}
	known := make(map[string]bool, len(c.Blanks))
	for i, b := range c.Blanks {
		if strings.TrimSpace(b.ID) == "" {
			return schemaErr(fmt.Sprintf("blank %d has no id", i))
		}
		if strings.TrimSpace(b.Answer) == "" {
			return schemaErr(fmt.Sprintf("blank %q has no answer", b.ID))
		}
		known[b.ID] = true
	}
	for _, match := range blankRef.FindAllStringSubmatch(c.Text, -1) {
		if !known[match[1]] {
			return schemaErr(fmt.Sprintf("text references blank %q with no matching entry", match[1]))
		}
	}
	return nil
}

func validateDragDrop(c DragDropContent) error {
	if len(c.Items) == 0 || len(c.Targets) == 0 {
		return schemaErr("drag-drop content needs both items and targets")
	}
	items := make(map[string]bool, len(c.Items))
	for i, it := range c.Items {
		if strings.TrimSpace(it.ID) == "" {
			return schemaErr(fmt.Sprintf("item %d has no id", i))
		}
		items[it.ID] = true
	}
	for i, tg := range c.Targets {
		if tg.Accepts == "" {
			return schemaErr(fmt.Sprintf("target %d accepts nothing", i))
		}
		if !items[tg.Accepts] {
			return schemaErr(fmt.Sprintf("target %d accepts unknown item %q", i, tg.Accepts))
		}
	}
	return nil
}

func schemaErr(msg string) error {
	return generr.New(generr.KindSchemaInvalid, msg)
}

func mismatchErr(t LessonType, cause error) error {
	return generr.Wrap(generr.KindSchemaMismatch,
		fmt.Sprintf("payload does not match %s schema", t), cause)
}
