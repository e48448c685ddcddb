package capsulegen

import (
	"errors"
	"fmt"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
)

// State is a generation pipeline state.
type State string

// Pipeline states.
const (
	StateIdle            State = "idle"
	StateOutlining       State = "generating_outline"
	StateOutlineComplete State = "outline_complete"
	StatePlanning        State = "generating_lesson_plans"
	StatePlansComplete   State = "lesson_plans_complete"
	StateWritingContent  State = "generating_content"
	StateContentComplete State = "content_complete"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// ErrIllegalTransition indicates a state transition not present in the
// transition table. This is a programming error, not a runtime condition.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions is the fixed adjacency map. failed is reachable from every
// non-terminal state; leaving failed happens only through Resume.
var transitions = map[State][]State{
	StateIdle:            {StateOutlining, StateFailed},
	StateOutlining:       {StateOutlineComplete, StateFailed},
	StateOutlineComplete: {StatePlanning, StateFailed},
	StatePlanning:        {StatePlansComplete, StateFailed},
	StatePlansComplete:   {StateWritingContent, StateFailed},
	StateWritingContent:  {StateContentComplete, StateFailed},
	StateContentComplete: {StateCompleted, StateFailed},
	StateCompleted:       {},
	StateFailed:          {},
}

// Progress weights. Outline completion is worth 10%, lesson planning 20%,
// content generation 70%.
const (
	outlineWeight = 10.0
	planWeight    = 20.0
	contentWeight = 70.0
)

// GenerationProgress is the externally visible bookkeeping for one run.
// It is owned by exactly one Machine and mutated only through its methods.
type GenerationProgress struct {
	State State `json:"state"`

	OutlineGenerated bool `json:"outline_generated"`
	PlansGenerated   int  `json:"plans_generated"`
	LessonsGenerated int  `json:"lessons_generated"`

	// Totals are known only after the outline stage.
	TotalModules int `json:"total_modules"`
	TotalLessons int `json:"total_lessons"`

	// Cursor for resumption: the module and lesson currently being worked.
	ModuleCursor int `json:"module_cursor"`
	LessonCursor int `json:"lesson_cursor"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	LastErrorKind    generr.Kind `json:"last_error_kind,omitempty"`
	LastErrorMessage string      `json:"last_error_message,omitempty"`

	RetryCount int       `json:"retry_count"`
	Usage      llm.Usage `json:"usage"`
}

// Percent returns the weighted completion percentage.
func (p GenerationProgress) Percent() float64 {
	if p.State == StateCompleted {
		return 100
	}
	var pct float64
	if p.OutlineGenerated {
		pct += outlineWeight
	}
	if p.TotalModules > 0 {
		pct += planWeight * float64(p.PlansGenerated) / float64(p.TotalModules)
	}
	if p.TotalLessons > 0 {
		pct += contentWeight * float64(p.LessonsGenerated) / float64(p.TotalLessons)
	}
	return pct
}

// Machine is the finite-state model of one generation run.
// It is not safe for concurrent use; a run owns its machine exclusively.
type Machine struct {
	progress GenerationProgress
	now      func() time.Time
}

// NewMachine creates a machine in the idle state.
func NewMachine() *Machine {
	return newMachineAt(time.Now)
}

func newMachineAt(now func() time.Time) *Machine {
	t := now().UTC()
	return &Machine{
		progress: GenerationProgress{
			State:     StateIdle,
			StartedAt: t,
			UpdatedAt: t,
		},
		now: now,
	}
}

// restoreMachine rebuilds a machine from persisted progress.
func restoreMachine(p GenerationProgress) *Machine {
	return &Machine{progress: p, now: time.Now}
}

// Progress returns a copy of the current progress.
func (m *Machine) Progress() GenerationProgress {
	return m.progress
}

// State returns the current state.
func (m *Machine) State() State {
	return m.progress.State
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the given state, enforcing the table.
func (m *Machine) Transition(to State) error {
	from := m.progress.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	m.progress.State = to
	m.progress.UpdatedAt = m.now().UTC()
	if to == StateCompleted {
		t := m.progress.UpdatedAt
		m.progress.CompletedAt = &t
	}
	return nil
}

// Fail moves the machine to failed, preserving the originating error.
// Retry exhaustion is recorded under its root cause: a run that kept
// timing out failed because of timeouts, not because of the retry loop.
func (m *Machine) Fail(err *generr.Error) error {
	if err != nil {
		kind, message := err.Kind, err.Message
		var cause *generr.Error
		if kind == generr.KindRetriesExhausted && errors.As(err.Cause, &cause) {
			kind, message = cause.Kind, cause.Message
		}
		m.progress.LastErrorKind = kind
		m.progress.LastErrorMessage = message
	}
	return m.Transition(StateFailed)
}

// ResumeState computes where a failed run should pick up, from the
// accumulated progress counters alone.
func (m *Machine) ResumeState() State {
	p := m.progress
	switch {
	case !p.OutlineGenerated:
		return StateOutlining
	case p.PlansGenerated < p.TotalModules:
		return StatePlanning
	case p.LessonsGenerated < p.TotalLessons:
		return StateWritingContent
	default:
		return StateCompleted
	}
}

// Resume restarts a failed run. It is legal only from the failed state.
// The target state is assigned directly rather than validated against the
// transition table: resumption is a deliberate state assignment, not a
// normal transition.
func (m *Machine) Resume() (State, error) {
	if m.progress.State != StateFailed {
		return "", fmt.Errorf("%w: resume from %s", ErrIllegalTransition, m.progress.State)
	}
	target := m.ResumeState()
	m.progress.State = target
	m.progress.RetryCount++
	m.progress.LastErrorKind = ""
	m.progress.LastErrorMessage = ""
	m.progress.UpdatedAt = m.now().UTC()
	if target == StateCompleted {
		t := m.progress.UpdatedAt
		m.progress.CompletedAt = &t
	}
	return target, nil
}

// OutlineDone records outline completion and the now-known totals.
func (m *Machine) OutlineDone(totalModules, totalLessons int) {
	m.progress.OutlineGenerated = true
	m.progress.TotalModules = totalModules
	m.progress.TotalLessons = totalLessons
	m.progress.UpdatedAt = m.now().UTC()
}

// PlanDone records one completed module plan and advances the cursor.
func (m *Machine) PlanDone() {
	m.progress.PlansGenerated++
	m.progress.ModuleCursor = m.progress.PlansGenerated
	m.progress.UpdatedAt = m.now().UTC()
}

// SetTotalLessons corrects the lesson total after planning, when module
// plans may have returned counts differing from the outline.
func (m *Machine) SetTotalLessons(total int) {
	m.progress.TotalLessons = total
	m.progress.UpdatedAt = m.now().UTC()
}

// LessonDone records one completed lesson and moves the cursor.
func (m *Machine) LessonDone(moduleIndex, lessonIndex int) {
	m.progress.LessonsGenerated++
	m.progress.ModuleCursor = moduleIndex
	m.progress.LessonCursor = lessonIndex + 1
	m.progress.UpdatedAt = m.now().UTC()
}

// AddUsage accumulates token cost into the run total.
func (m *Machine) AddUsage(u llm.Usage) {
	m.progress.Usage.Add(u)
}
