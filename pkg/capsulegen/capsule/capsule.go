// Package capsule defines the generated content tree.
//
// The tree is strictly three-level: an Outline owns module stubs, a
// ModulePlan (one per module) owns lesson stubs, and LessonContent (one
// per lesson) owns a payload whose shape depends on the lesson's
// pedagogical type. Ownership is non-cyclic; the orchestrator assembles
// the final Capsule only after every leaf succeeded.
package capsule

import "encoding/json"

// LessonType is the pedagogical type of a lesson.
type LessonType string

// Supported lesson types.
const (
	TypeConcept        LessonType = "concept"
	TypeMultipleChoice LessonType = "multiple_choice"
	TypeFillBlanks     LessonType = "fill_blanks"
	TypeDragDrop       LessonType = "drag_drop"
	TypeSimulation     LessonType = "simulation"
)

// Known reports whether t is a supported lesson type.
func (t LessonType) Known() bool {
	switch t {
	case TypeConcept, TypeMultipleChoice, TypeFillBlanks, TypeDragDrop, TypeSimulation:
		return true
	}
	return false
}

// Outline bounds. Courses outside these are rejected as schema-invalid.
const (
	MinModules          = 2
	MaxModules          = 5
	MinLessonsPerModule = 3
	MaxLessonsPerModule = 6
)

// Outline is the stage-1 product: the course skeleton.
type Outline struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Modules     []ModuleStub `json:"modules"`
}

// ModuleStub is a planned module within an outline.
type ModuleStub struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LessonCount int    `json:"lesson_count"`
}

// ModulePlan is the stage-2 product for one module.
type ModulePlan struct {
	Lessons []LessonStub `json:"lessons"`
}

// LessonStub is a planned lesson within a module plan.
type LessonStub struct {
	Title     string     `json:"title"`
	Type      LessonType `json:"type"`
	Objective string     `json:"objective"`
}

// LessonContent is the stage-3 product for one lesson.
// Payload is opaque at this level; its shape is dictated by the lesson
// type and checked by ValidateContent.
type LessonContent struct {
	Payload json.RawMessage `json:"payload"`
}

// Capsule is the fully assembled course.
type Capsule struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Modules     []Module `json:"modules"`
}

// Module is an assembled module with realized lessons.
type Module struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Lessons     []Lesson `json:"lessons"`
}

// Lesson is an assembled lesson with its content payload.
type Lesson struct {
	Title     string          `json:"title"`
	Type      LessonType      `json:"type"`
	Objective string          `json:"objective"`
	Content   json.RawMessage `json:"content"`
}

// TotalLessons returns the planned lesson count across all outline modules.
func (o Outline) TotalLessons() int {
	n := 0
	for _, m := range o.Modules {
		n += m.LessonCount
	}
	return n
}

// LessonCount returns the number of assembled lessons in the capsule.
func (c Capsule) LessonCount() int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}
