package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/llm"
	"github.com/mattjoyce/herald/internal/pool"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/timer"
)

type fakeRouter struct {
	decision intent.RoutingDecision
	err      error
}

func (f *fakeRouter) Decide(ctx context.Context, text string) (intent.RoutingDecision, error) {
	return f.decision, f.err
}

// fakeJobs answers submitted jobs from a per-tool script.
type fakeJobs struct {
	mu        sync.Mutex
	submitted []*protocol.JobRequest
	responses map[string]*protocol.JobResponse // keyed by tool
	pending   map[string]*protocol.JobResponse // keyed by job id
	submitErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		responses: make(map[string]*protocol.JobResponse),
		pending:   make(map[string]*protocol.JobResponse),
	}
}

func (f *fakeJobs) ok(tool string, payload map[string]any) {
	f.responses[tool] = &protocol.JobResponse{Status: "ok", Tool: tool, Payload: payload}
}

func (f *fakeJobs) fail(tool, errCode, msg string) {
	f.responses[tool] = &protocol.JobResponse{Status: "error", Tool: tool, ErrCode: errCode, Error: msg}
}

func (f *fakeJobs) Submit(req *protocol.JobRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, req)
	resp, ok := f.responses[req.Tool]
	if !ok {
		resp = &protocol.JobResponse{Status: "error", Tool: req.Tool, ErrCode: "execution_error", Error: "unscripted tool"}
	}
	cp := *resp
	cp.JobID = req.JobID
	cp.Gen = req.Gen
	f.pending[req.JobID] = &cp
	return nil
}

func (f *fakeJobs) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) *protocol.JobResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.pending[jobID]; ok {
		delete(f.pending, jobID)
		return resp
	}
	return &protocol.JobResponse{Status: "error", JobID: jobID, ErrCode: "timeout", Error: "no result"}
}

type fakeAnswerer struct {
	reply string
	err   error
}

func (f *fakeAnswerer) Answer(ctx context.Context, text string) (string, error) {
	return f.reply, f.err
}

func newTestOrchestrator(t *testing.T, r Router, j Jobs) *Orchestrator {
	t.Helper()
	o, err := New(Config{Router: r, Jobs: j, JobTimeout: time.Second})
	require.NoError(t, err)
	return o
}

func toolPlan(parallel bool, intents ...intent.ActionIntent) intent.RoutingDecision {
	return intent.RoutingDecision{
		Mode:       intent.ModeToolPlan,
		Intents:    intents,
		Parallel:   parallel,
		Confidence: 0.9,
		Source:     "pattern",
	}
}

func TestDirectReplyPassesThrough(t *testing.T) {
	r := &fakeRouter{decision: intent.RoutingDecision{Mode: intent.ModeDirectReply, Reply: "Hello there.", Source: "pattern", Confidence: 0.95}}
	o := newTestOrchestrator(t, r, newFakeJobs())

	s := o.HandleUserText(context.Background(), "hello", 1)
	assert.True(t, s.OK)
	assert.Equal(t, "Hello there.", s.Reply)
}

func TestSingleToolSuccess(t *testing.T) {
	jobs := newFakeJobs()
	jobs.ok("open_target", map[string]any{"target": "spotify", "launched": "spotify"})
	r := &fakeRouter{decision: toolPlan(false, intent.ActionIntent{Tool: "open_target", Args: map[string]any{"target": "spotify"}})}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "open spotify", 3)
	assert.True(t, s.OK)
	assert.Equal(t, "Opening spotify.", s.Reply)
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, uint64(3), jobs.submitted[0].Gen)
	assert.Equal(t, protocol.WorkerProtocolVersion, jobs.submitted[0].Protocol)
	assert.False(t, jobs.submitted[0].DeadlineAt.IsZero())
}

func TestSequentialStopsOnFailure(t *testing.T) {
	jobs := newFakeJobs()
	jobs.fail("open_target", "execution_error", "launch failed")
	jobs.ok("get_time", map[string]any{"time": "3:04 PM"})
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "open_target", Args: map[string]any{"target": "spotify"}},
		intent.ActionIntent{Tool: "get_time", Args: map[string]any{}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "open spotify then tell me the time", 0)
	assert.False(t, s.OK)
	assert.Equal(t, "Sorry, that didn't work.", s.Reply)
	// The second intent never ran.
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, "open_target", jobs.submitted[0].Tool)
	require.Len(t, s.Results, 1)
	assert.Equal(t, intent.ErrExecution, s.Results[0].ErrCode)
}

func TestSequentialContinueOnError(t *testing.T) {
	jobs := newFakeJobs()
	jobs.fail("close_window", "execution_error", "no such window")
	jobs.ok("get_time", map[string]any{"time": "3:04 PM"})
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "close_window", Args: map[string]any{"title": "spotify"}, ContinueOnError: true},
		intent.ActionIntent{Tool: "get_time", Args: map[string]any{}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "close spotify then tell me the time", 0)
	assert.False(t, s.OK)
	require.Len(t, jobs.submitted, 2)
	assert.Equal(t, "It is 3:04 PM. Sorry, that didn't work.", s.Reply)
}

func TestParallelPlanRunsAll(t *testing.T) {
	jobs := newFakeJobs()
	jobs.ok("open_target", map[string]any{})
	jobs.ok("open_website", map[string]any{"url": "https://example.com"})
	r := &fakeRouter{decision: toolPlan(true,
		intent.ActionIntent{Tool: "open_target", Args: map[string]any{"target": "spotify"}},
		intent.ActionIntent{Tool: "open_website", Args: map[string]any{"url": "example.com"}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "open spotify and example dot com", 0)
	assert.True(t, s.OK)
	require.Len(t, jobs.submitted, 2)
	require.Len(t, s.Results, 2)
	assert.Equal(t, "open_target", s.Results[0].Intent.Tool)
	assert.Equal(t, "open_website", s.Results[1].Intent.Tool)
	assert.Equal(t, "Opening spotify. Opening example.com.", s.Reply)
}

// trackingJobs counts how many jobs are between Submit and AwaitResult at
// once, and records submission order.
type trackingJobs struct {
	mu       sync.Mutex
	order    []string
	inflight int
	maxSeen  int
}

func (f *trackingJobs) Submit(req *protocol.JobRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, req.Tool)
	f.inflight++
	if f.inflight > f.maxSeen {
		f.maxSeen = f.inflight
	}
	return nil
}

func (f *trackingJobs) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) *protocol.JobResponse {
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	return &protocol.JobResponse{Status: "ok", JobID: jobID}
}

func TestParallelTagNeverRunsConcurrently(t *testing.T) {
	// "open spotify and close chrome": the parallel tag means no data
	// dependency, not concurrent execution. Intents execute one at a time
	// in listed order.
	jobs := &trackingJobs{}
	r := &fakeRouter{decision: toolPlan(true,
		intent.ActionIntent{Tool: "open_target", Args: map[string]any{"target": "spotify"}},
		intent.ActionIntent{Tool: "close_window", Args: map[string]any{"title": "chrome"}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "open spotify and close chrome", 0)
	assert.True(t, s.OK)
	assert.Equal(t, []string{"open_target", "close_window"}, jobs.order)
	assert.Equal(t, 1, jobs.maxSeen, "at most one job in flight per plan")
}

func TestParallelPlanContinuesPastFailure(t *testing.T) {
	jobs := newFakeJobs()
	jobs.fail("open_target", "execution_error", "launch failed")
	jobs.ok("close_window", map[string]any{"title": "chrome"})
	r := &fakeRouter{decision: toolPlan(true,
		intent.ActionIntent{Tool: "open_target", Args: map[string]any{"target": "spotify"}},
		intent.ActionIntent{Tool: "close_window", Args: map[string]any{"title": "chrome"}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "open spotify and close chrome", 0)
	assert.False(t, s.OK)
	// Independent clauses carry no dependency; the failure does not abort
	// the rest of the plan.
	require.Len(t, jobs.submitted, 2)
	require.Len(t, s.Results, 2)
	assert.True(t, s.Results[1].OK)
}

func TestSetTimerIntercepted(t *testing.T) {
	jobs := newFakeJobs()
	timers := timer.NewService()
	t.Cleanup(timers.Stop)
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "set_timer", Args: map[string]any{"seconds": float64(300)}},
	)}
	o, err := New(Config{Router: r, Jobs: jobs, Timers: timers, JobTimeout: time.Second})
	require.NoError(t, err)

	s := o.HandleUserText(context.Background(), "set a timer for five minutes", 2)
	assert.True(t, s.OK)
	assert.Equal(t, "Timer set for 5 minutes.", s.Reply)
	assert.Empty(t, jobs.submitted, "timers must not reach the pool")
	assert.Equal(t, 1, timers.Active())
}

func TestSetTimerRejectsBadSeconds(t *testing.T) {
	timers := timer.NewService()
	t.Cleanup(timers.Stop)
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "set_timer", Args: map[string]any{"seconds": float64(-1)}},
	)}
	o, err := New(Config{Router: r, Jobs: newFakeJobs(), Timers: timers, JobTimeout: time.Second})
	require.NoError(t, err)

	s := o.HandleUserText(context.Background(), "set a timer", 0)
	assert.False(t, s.OK)
	assert.Equal(t, "Sorry, I didn't catch the details of that.", s.Reply)
	assert.Equal(t, 0, timers.Active())
}

func TestSubmitOverflowBecomesApology(t *testing.T) {
	jobs := newFakeJobs()
	jobs.submitErr = pool.ErrQueueFull
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "get_time", Args: map[string]any{}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "what time is it", 0)
	assert.False(t, s.OK)
	require.Len(t, s.Results, 1)
	assert.Equal(t, intent.ErrOverflow, s.Results[0].ErrCode)
	assert.Contains(t, s.Reply, "too many things at once")
}

func TestUnknownWorkerErrCodeCoerced(t *testing.T) {
	jobs := newFakeJobs()
	jobs.fail("get_time", "weird_code", "boom")
	r := &fakeRouter{decision: toolPlan(false,
		intent.ActionIntent{Tool: "get_time", Args: map[string]any{}},
	)}
	o := newTestOrchestrator(t, r, jobs)

	s := o.HandleUserText(context.Background(), "what time is it", 0)
	require.Len(t, s.Results, 1)
	assert.Equal(t, intent.ErrExecution, s.Results[0].ErrCode)
}

func TestConversationalMode(t *testing.T) {
	r := &fakeRouter{decision: intent.RoutingDecision{Mode: intent.ModeLLM, Source: "llm"}}
	o, err := New(Config{
		Router:     r,
		Jobs:       newFakeJobs(),
		Answerer:   &fakeAnswerer{reply: "Go is a programming language."},
		JobTimeout: time.Second,
	})
	require.NoError(t, err)

	s := o.HandleUserText(context.Background(), "what is go", 0)
	assert.True(t, s.OK)
	assert.Equal(t, "Go is a programming language.", s.Reply)
}

func TestConversationalUnavailable(t *testing.T) {
	r := &fakeRouter{decision: intent.RoutingDecision{Mode: intent.ModeLLM, Source: "llm"}}
	o, err := New(Config{
		Router:     r,
		Jobs:       newFakeJobs(),
		Answerer:   &fakeAnswerer{err: llm.ErrUnavailable},
		JobTimeout: time.Second,
	})
	require.NoError(t, err)

	s := o.HandleUserText(context.Background(), "what is go", 0)
	assert.False(t, s.OK)
	assert.Equal(t, "Sorry, I can't do that right now.", s.Reply)
}

func TestRoutingErrorBecomesApology(t *testing.T) {
	r := &fakeRouter{err: llm.ErrTimeout}
	o := newTestOrchestrator(t, r, newFakeJobs())

	s := o.HandleUserText(context.Background(), "do a thing", 0)
	assert.False(t, s.OK)
	assert.Equal(t, "Sorry, that took too long.", s.Reply)
}

func TestRunToolBypassesRouting(t *testing.T) {
	jobs := newFakeJobs()
	jobs.ok("get_time", map[string]any{"time": "9:00 AM"})
	r := &fakeRouter{err: errors.New("router must not be called")}
	o := newTestOrchestrator(t, r, jobs)

	res := o.RunTool(context.Background(), "get_time", map[string]any{}, 0)
	assert.True(t, res.OK)
	assert.Equal(t, "9:00 AM", res.Payload["time"])
}
