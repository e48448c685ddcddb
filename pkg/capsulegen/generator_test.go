package capsulegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplearn/capsulegen/pkg/capsulegen/breaker"
	"github.com/caplearn/capsulegen/pkg/capsulegen/checkpoint"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/stage"
)

// Two modules of three planned lessons each; the second module's plan
// comes back with two lessons, which the pipeline tolerates.
const testOutlineJSON = `{
  "title": "Photosynthesis",
  "description": "How plants make food",
  "modules": [
    {"title": "Light Reactions", "description": "Photons in", "lesson_count": 3},
    {"title": "Calvin Cycle", "description": "Sugar out", "lesson_count": 3}
  ]
}`

var testPlanJSONs = map[string]string{
	"Light Reactions": `{"lessons":[
		{"title":"Pigments","type":"concept","objective":"Name the pigments"},
		{"title":"Photon Quiz","type":"multiple_choice","objective":"Recall basics"},
		{"title":"Label the Leaf","type":"fill_blanks","objective":"Identify parts"}]}`,
	"Calvin Cycle": `{"lessons":[
		{"title":"Carbon Fixation","type":"concept","objective":"Explain fixation"},
		{"title":"Cycle Match","type":"drag_drop","objective":"Order the steps"}]}`,
}

var testContentByType = map[string]string{
	"concept":         `{"body":"Teaching text.","key_points":["one"]}`,
	"multiple_choice": `{"questions":[{"prompt":"?","choices":["a","b"],"correct_index":1}]}`,
	"fill_blanks":     `{"text":"Plants need {{gas}}.","blanks":[{"id":"gas","answer":"CO2"}]}`,
	"drag_drop":       `{"instructions":"Match.","items":[{"id":"i1","label":"A"}],"targets":[{"id":"t1","label":"B","accepts":"i1"}]}`,
	"simulation":      `{"scenario":"You are a leaf.","steps":[{"prompt":"Act","expected_action":"open"}]}`,
}

// pipelineClient scripts a full pipeline, routing by prompt shape.
type pipelineClient struct {
	mu sync.Mutex

	outlineCalls, planCalls, contentCalls int

	outlineFailures int   // fail this many outline calls before succeeding
	outlineErr      error // error for failed outline calls
	contentErr      error // when set, every content call fails with it
}

func (p *pipelineClient) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(req.User, "Design a course outline"):
		p.outlineCalls++
		if p.outlineCalls <= p.outlineFailures {
			return nil, p.outlineErr
		}
		return &llm.Response{Text: testOutlineJSON, Usage: llm.Usage{TotalTokens: 100}}, nil

	case strings.Contains(req.User, "Plan exactly"):
		p.planCalls++
		for title, js := range testPlanJSONs {
			if strings.Contains(req.User, title) {
				return &llm.Response{Text: js, Usage: llm.Usage{TotalTokens: 80}}, nil
			}
		}
		return nil, fmt.Errorf("no plan scripted for request: %s", req.User)

	case strings.Contains(req.User, "Write the content"):
		p.contentCalls++
		if p.contentErr != nil {
			return nil, p.contentErr
		}
		for typ, js := range testContentByType {
			if strings.Contains(req.User, "(type "+typ+")") {
				return &llm.Response{Text: js, Usage: llm.Usage{TotalTokens: 60}}, nil
			}
		}
		return nil, fmt.Errorf("no content scripted for request: %s", req.User)

	default:
		return nil, fmt.Errorf("unrecognized request: %s", req.User)
	}
}

func (p *pipelineClient) setContentErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentErr = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestGenerator(t *testing.T, client llm.Client, opts ...Option) (*Generator, *breaker.Breaker) {
	t.Helper()
	brk := breaker.New(breaker.NewMemoryStore(), breaker.DefaultConfig)
	caller := llm.NewCaller("prov", client, brk, llm.WithSleep(noSleep), llm.WithLogger(discardLogger()))
	exec := stage.NewExecutor(caller, discardLogger(), nil)
	base := []Option{WithLogger(discardLogger()), withSleep(noSleep)}
	return NewGenerator(exec, append(base, opts...)...), brk
}

func TestGenerateFullPipeline(t *testing.T) {
	client := &pipelineClient{}
	gen, _ := newTestGenerator(t, client)

	var messages []string
	run := gen.NewRun(TopicInput("Photosynthesis"), WithProgress(func(p GenerationProgress, msg string) {
		messages = append(messages, msg)
	}))
	res := run.Generate(context.Background())

	require.Nil(t, res.Err)
	require.True(t, res.Success)
	assert.False(t, res.Aborted)
	assert.Equal(t, StateCompleted, res.Progress.State)
	assert.Equal(t, 100.0, res.Progress.Percent())

	require.NotNil(t, res.Capsule)
	assert.Equal(t, "Photosynthesis", res.Capsule.Title)
	require.Len(t, res.Capsule.Modules, 2)
	assert.Equal(t, 5, res.Capsule.LessonCount())

	// One outline call, one plan call per module, one content call per lesson.
	assert.Equal(t, 1, client.outlineCalls)
	assert.Equal(t, 2, client.planCalls)
	assert.Equal(t, 5, client.contentCalls)

	// Token cost accumulated across all calls.
	assert.Equal(t, 100+2*80+5*60, res.Progress.Usage.TotalTokens)

	// Progress fired for stage boundaries and each unit of work.
	assert.Contains(t, messages, "outline complete")
	assert.Contains(t, messages, "lesson plans complete")
	assert.Contains(t, messages, "generation complete")
}

func TestGenerateOutlineRetriedOnRateLimit(t *testing.T) {
	client := &pipelineClient{
		outlineFailures: 2,
		outlineErr:      &generr.StatusError{StatusCode: 429, Message: "too many requests"},
	}
	gen, brk := newTestGenerator(t, client)

	res := gen.NewRun(TopicInput("Photosynthesis")).Generate(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, 3, client.outlineCalls)

	// Two failures were recorded, then the success reset the streak.
	snap, err := brk.Snapshot(context.Background(), "prov")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, snap.State)
	assert.Zero(t, snap.Failures)
}

func TestGenerateFailsAfterContentTimeouts(t *testing.T) {
	client := &pipelineClient{}
	client.setContentErr(context.DeadlineExceeded)

	store := checkpoint.NewMemoryStore()
	gen, _ := newTestGenerator(t, client, WithSnapshotStore(store))

	run := gen.NewRun(TopicInput("Photosynthesis"))
	res := run.Generate(context.Background())

	require.False(t, res.Success)
	assert.False(t, res.Aborted)
	assert.Equal(t, StateFailed, res.Progress.State)
	assert.Equal(t, generr.KindTimeout, res.Progress.LastErrorKind)

	// Outline and both plans completed before the content stage died.
	assert.True(t, res.Progress.OutlineGenerated)
	assert.Equal(t, 2, res.Progress.PlansGenerated)
	assert.Zero(t, res.Progress.LessonsGenerated)

	// The failed run left a snapshot behind for resumption.
	assert.Equal(t, 1, store.Len())
}

func TestResumeContinuesWhereRunFailed(t *testing.T) {
	client := &pipelineClient{}
	client.setContentErr(context.DeadlineExceeded)

	store := checkpoint.NewMemoryStore()
	gen, _ := newTestGenerator(t, client, WithSnapshotStore(store))

	run := gen.NewRun(TopicInput("Photosynthesis"))
	res := run.Generate(context.Background())
	require.False(t, res.Success)

	// Provider recovers.
	client.setContentErr(nil)

	resumed, err := gen.ResumeRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, StateWritingContent, resumed.Progress().State)
	assert.Equal(t, 1, resumed.Progress().RetryCount)

	outlineCallsBefore := client.outlineCalls
	planCallsBefore := client.planCalls

	res2 := resumed.Generate(context.Background())
	require.Nil(t, res2.Err)
	require.True(t, res2.Success)
	assert.Equal(t, 5, res2.Capsule.LessonCount())

	// Completed stages were not redone.
	assert.Equal(t, outlineCallsBefore, client.outlineCalls)
	assert.Equal(t, planCallsBefore, client.planCalls)

	// Success removed the snapshot.
	assert.Zero(t, store.Len())
}

func TestResumeUnknownRun(t *testing.T) {
	gen, _ := newTestGenerator(t, &pipelineClient{})
	_, err := gen.ResumeRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestAbortStopsBetweenUnitsOfWork(t *testing.T) {
	client := &pipelineClient{}
	gen, _ := newTestGenerator(t, client)

	var run *Run
	run = gen.NewRun(TopicInput("Photosynthesis"), WithProgress(func(p GenerationProgress, msg string) {
		if msg == "outline complete" {
			run.Abort()
		}
	}))
	res := run.Generate(context.Background())

	assert.True(t, res.Aborted)
	assert.False(t, res.Success)
	assert.Nil(t, res.Err)
	assert.NotEqual(t, StateFailed, res.Progress.State, "abort is not a failure")
	assert.Zero(t, client.planCalls, "no module was planned after abort")
}

func TestAbortBeforeStart(t *testing.T) {
	client := &pipelineClient{}
	gen, _ := newTestGenerator(t, client)

	run := gen.NewRun(TopicInput("Photosynthesis"))
	run.Abort()
	res := run.Generate(context.Background())

	assert.True(t, res.Aborted)
	assert.Zero(t, client.outlineCalls)
}

func TestGenerateContextCancellation(t *testing.T) {
	client := &pipelineClient{}
	gen, _ := newTestGenerator(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := gen.NewRun(TopicInput("Photosynthesis")).Generate(ctx)
	assert.True(t, res.Aborted)
}

func TestGenerateInvalidInputFailsFast(t *testing.T) {
	client := &pipelineClient{}
	gen, _ := newTestGenerator(t, client)

	res := gen.NewRun(TopicInput("   ")).Generate(context.Background())
	require.False(t, res.Success)
	assert.Equal(t, generr.KindInvalidInput, res.Progress.LastErrorKind)
	assert.Zero(t, client.outlineCalls)
}

func TestRetriableStageFailureRetriedAtOrchestrationLevel(t *testing.T) {
	// First content call returns garbage (JSON_MALFORMED, retriable at the
	// stage level); the orchestration retry re-runs the stage.
	garbageOnce := &garbageOnceClient{inner: &pipelineClient{}}
	gen, _ := newTestGenerator(t, garbageOnce)

	res := gen.NewRun(TopicInput("Photosynthesis")).Generate(context.Background())
	require.Nil(t, res.Err)
	require.True(t, res.Success)
	assert.Equal(t, 5, res.Capsule.LessonCount())
}

func TestContentPromptsCarryWholeCourseContext(t *testing.T) {
	inner := &pipelineClient{}
	recording := &recordingClient{inner: inner}
	gen, _ := newTestGenerator(t, recording)

	res := gen.NewRun(TopicInput("Photosynthesis")).Generate(context.Background())
	require.True(t, res.Success)

	var contentPrompts []string
	for _, req := range recording.requests() {
		if strings.Contains(req.User, "Write the content") {
			contentPrompts = append(contentPrompts, req.User)
		}
	}
	require.Len(t, contentPrompts, 5)

	// The very first lesson has no history.
	assert.NotContains(t, contentPrompts[0], "for continuity")

	// A later lesson in the first module sees the lessons before it.
	assert.Contains(t, contentPrompts[2], "Pigments")
	assert.Contains(t, contentPrompts[2], "Photon Quiz")

	// Lessons in the second module still see the first module's lessons.
	last := contentPrompts[len(contentPrompts)-1]
	assert.Contains(t, last, "Pigments")
	assert.Contains(t, last, "Label the Leaf")
	assert.Contains(t, last, "Carbon Fixation")
}

// recordingClient captures every request passing through it.
type recordingClient struct {
	mu    sync.Mutex
	inner llm.Client
	reqs  []llm.Request
}

func (r *recordingClient) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.inner.Call(ctx, req)
}

func (r *recordingClient) requests() []llm.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.Request(nil), r.reqs...)
}

// garbageOnceClient corrupts the first content response, then delegates.
type garbageOnceClient struct {
	mu        sync.Mutex
	inner     *pipelineClient
	corrupted bool
}

func (g *garbageOnceClient) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.User, "Write the content") {
		g.mu.Lock()
		first := !g.corrupted
		g.corrupted = true
		g.mu.Unlock()
		if first {
			return &llm.Response{Text: "I'd rather chat about the weather.", Usage: llm.Usage{TotalTokens: 5}}, nil
		}
	}
	return g.inner.Call(ctx, req)
}
