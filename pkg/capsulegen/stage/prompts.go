package stage

import (
	"fmt"
	"strings"

	"github.com/caplearn/capsulegen/pkg/capsulegen/capsule"
)

// Prompt construction. Prompts are deterministic functions of their
// inputs so a resumed run re-issues byte-identical requests.

const outlineSystem = `You are a curriculum designer for short interactive learning capsules.
Respond with a single JSON object and nothing else.`

const outlineSchemaHint = `{
  "title": "string",
  "description": "string",
  "modules": [
    {"title": "string", "description": "string", "lesson_count": 3}
  ]
}`

const planSystem = `You are a curriculum designer expanding one course module into lessons.
Respond with a single JSON object and nothing else.`

const planSchemaHint = `{
  "lessons": [
    {"title": "string", "type": "concept|multiple_choice|fill_blanks|drag_drop|simulation", "objective": "string"}
  ]
}`

const contentSystem = `You are an instructional designer writing one lesson for a learning capsule.
Respond with a single JSON object and nothing else.`

var contentSchemaHints = map[capsule.LessonType]string{
	capsule.TypeConcept:        `{"body": "string", "key_points": ["string"]}`,
	capsule.TypeMultipleChoice: `{"questions": [{"prompt": "string", "choices": ["string"], "correct_index": 0, "explanation": "string"}]}`,
	capsule.TypeFillBlanks:     `{"text": "string with {{blank_id}} references", "blanks": [{"id": "blank_id", "answer": "string", "hint": "string"}]}`,
	capsule.TypeDragDrop:       `{"instructions": "string", "items": [{"id": "string", "label": "string"}], "targets": [{"id": "string", "label": "string", "accepts": "item_id"}]}`,
	capsule.TypeSimulation:     `{"scenario": "string", "steps": [{"prompt": "string", "expected_action": "string", "feedback": "string"}]}`,
}

func outlinePrompt(req OutlineRequest) string {
	var b strings.Builder
	switch req.Source {
	case SourceDocument:
		b.WriteString("Design a course outline from the attached document.\n")
	default:
		fmt.Fprintf(&b, "Design a course outline on the topic: %s\n", req.Topic)
	}
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Difficulty)
	fmt.Fprintf(&b, "The course must have between %d and %d modules, each planning between %d and %d lessons.\n",
		capsule.MinModules, capsule.MaxModules, capsule.MinLessonsPerModule, capsule.MaxLessonsPerModule)
	if req.TargetModuleCount > 0 {
		fmt.Fprintf(&b, "Aim for %d modules.\n", req.TargetModuleCount)
	}
	if req.Guidance != "" {
		fmt.Fprintf(&b, "Additional guidance: %s\n", req.Guidance)
	}
	return b.String()
}

func planPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", req.CourseTitle)
	fmt.Fprintf(&b, "Module %d: %s\n", req.ModuleIndex+1, req.Module.Title)
	if req.Module.Description != "" {
		fmt.Fprintf(&b, "Module description: %s\n", req.Module.Description)
	}
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Difficulty)
	fmt.Fprintf(&b, "Plan exactly %d lessons for this module.\n", req.Module.LessonCount)
	b.WriteString("Mix lesson types: concept lessons teach, the others practice.\n")
	if req.Guidance != "" {
		fmt.Fprintf(&b, "Additional guidance: %s\n", req.Guidance)
	}
	return b.String()
}

func contentPrompt(req ContentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", req.CourseTitle)
	fmt.Fprintf(&b, "Module: %s\n", req.ModuleTitle)
	fmt.Fprintf(&b, "Lesson: %s (type %s)\n", req.Lesson.Title, req.Lesson.Type)
	if req.Lesson.Objective != "" {
		fmt.Fprintf(&b, "Learning objective: %s\n", req.Lesson.Objective)
	}
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Difficulty)
	if len(req.PriorLessons) > 0 {
		b.WriteString("Earlier lessons in this course, for continuity:\n")
		for _, p := range req.PriorLessons {
			fmt.Fprintf(&b, "- %s (%s)\n", p.Title, p.Type)
		}
	}
	fmt.Fprintf(&b, "Write the content for this %s lesson.\n", req.Lesson.Type)
	return b.String()
}
