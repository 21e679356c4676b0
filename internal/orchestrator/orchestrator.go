// Package orchestrator executes routing decisions: it drives the worker
// pool, intercepts timer intents, aggregates results, and renders every
// outcome as one short spoken reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/history"
	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/llm"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/metrics"
	"github.com/mattjoyce/herald/internal/pool"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/timer"
)

// Router decides how an utterance is handled.
type Router interface {
	Decide(ctx context.Context, text string) (intent.RoutingDecision, error)
}

// Jobs is the pool surface the orchestrator drives.
type Jobs interface {
	Submit(req *protocol.JobRequest) error
	AwaitResult(ctx context.Context, jobID string, timeout time.Duration) *protocol.JobResponse
}

// Answerer produces a conversational reply when no tool applies.
type Answerer interface {
	Answer(ctx context.Context, text string) (string, error)
}

// Orchestrator glues the router, the pool, and the timer service together.
type Orchestrator struct {
	router Router
	jobs   Jobs
	timers *timer.Service
	answer Answerer

	history *history.Store // optional
	hub     *events.Hub    // optional

	jobTimeout time.Duration
}

// Config wires the orchestrator's collaborators. Router and Jobs are
// required; everything else is optional.
type Config struct {
	Router     Router
	Jobs       Jobs
	Timers     *timer.Service
	Answerer   Answerer
	History    *history.Store
	Hub        *events.Hub
	JobTimeout time.Duration
}

// New builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("orchestrator: router is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("orchestrator: job pool is required")
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Orchestrator{
		router:     cfg.Router,
		jobs:       cfg.Jobs,
		timers:     cfg.Timers,
		answer:     cfg.Answerer,
		history:    cfg.History,
		hub:        cfg.Hub,
		jobTimeout: cfg.JobTimeout,
	}, nil
}

// HandleUserText runs one turn end to end and returns the execution summary.
// Every failure mode still yields a speakable reply.
func (o *Orchestrator) HandleUserText(ctx context.Context, text string, gen uint64) intent.ExecutionSummary {
	turnID := uuid.NewString()
	logger := log.WithComponent("orchestrator").With("turn_id", turnID, "gen", gen)
	logger.Info("turn started", "text", text)

	if o.history != nil {
		if err := o.history.BeginTurn(ctx, turnID, gen, text); err != nil {
			logger.Warn("history begin failed", "error", err)
		}
	}
	o.publish(events.TypeTranscript, gen, map[string]any{"turn_id": turnID, "text": text})

	decision, err := o.router.Decide(ctx, text)
	if err != nil {
		logger.Warn("routing failed", "error", err)
		summary := failureSummary(routeErrCode(err))
		o.finishTurn(ctx, turnID, decision, summary, logger)
		return summary
	}

	metrics.TurnsTotal.WithLabelValues(string(decision.Mode), decision.Source).Inc()
	if decision.Source != "llm" {
		metrics.RoutingConfidence.Observe(decision.Confidence)
	}
	o.publish(events.TypeDecision, gen, decision)

	var summary intent.ExecutionSummary
	switch decision.Mode {
	case intent.ModeDirectReply:
		summary = intent.ExecutionSummary{OK: true, Reply: decision.Reply}
	case intent.ModeLLM:
		summary = o.conversational(ctx, text)
	case intent.ModeToolPlan:
		summary = o.executePlan(ctx, turnID, decision, gen, logger)
	default:
		logger.Error("unknown routing mode", "mode", decision.Mode)
		summary = failureSummary(intent.ErrExecution)
	}

	o.finishTurn(ctx, turnID, decision, summary, logger)
	return summary
}

// RunTool executes one tool directly, bypassing routing. Used by the
// explicit invocation path ("herald tools run").
func (o *Orchestrator) RunTool(ctx context.Context, tool string, args map[string]any, gen uint64) intent.ExecutionResult {
	in := intent.ActionIntent{Tool: tool, Args: args}
	return o.executeIntent(ctx, "", in, gen)
}

func (o *Orchestrator) conversational(ctx context.Context, text string) intent.ExecutionSummary {
	if o.answer == nil {
		return failureSummary(intent.ErrUnavailable)
	}
	reply, err := o.answer.Answer(ctx, text)
	if err != nil {
		return failureSummary(routeErrCode(err))
	}
	return intent.ExecutionSummary{OK: true, Reply: reply}
}

// executePlan runs the plan's intents one at a time in listed order. The
// parallel tag marks clauses as independent, not concurrent: a failing
// clause still aborts the remainder of a sequential plan, but independent
// parallel-tagged clauses carry no dependency and keep executing.
func (o *Orchestrator) executePlan(ctx context.Context, turnID string, d intent.RoutingDecision, gen uint64, logger *slog.Logger) intent.ExecutionSummary {
	var results []intent.ExecutionResult
	for _, in := range d.Intents {
		res := o.executeIntent(ctx, turnID, in, gen)
		results = append(results, res)
		if !res.OK && !d.Parallel && !in.ContinueOnError {
			break
		}
	}

	summary := summarize(d.Intents, results)
	logger.Info("plan finished", "intents", len(d.Intents), "ok", summary.OK)
	return summary
}

// executeIntent runs one action: timers are handled in-process, everything
// else goes through the worker pool.
func (o *Orchestrator) executeIntent(ctx context.Context, turnID string, in intent.ActionIntent, gen uint64) intent.ExecutionResult {
	start := time.Now()
	res := o.dispatch(ctx, turnID, in, gen)
	metrics.JobDuration.WithLabelValues(in.Tool).Observe(time.Since(start).Seconds())
	if res.OK {
		metrics.JobsTotal.WithLabelValues(in.Tool, "ok").Inc()
	} else {
		metrics.JobsTotal.WithLabelValues(in.Tool, "error").Inc()
		metrics.JobErrors.WithLabelValues(string(res.ErrCode)).Inc()
	}
	o.publish(events.TypeJobDone, gen, res)
	return res
}

func (o *Orchestrator) dispatch(ctx context.Context, turnID string, in intent.ActionIntent, gen uint64) intent.ExecutionResult {
	if in.Tool == "set_timer" && o.timers != nil {
		return o.setTimer(in, gen)
	}

	jobID := uuid.NewString()
	req := &protocol.JobRequest{
		Protocol:   protocol.WorkerProtocolVersion,
		JobID:      jobID,
		Tool:       in.Tool,
		Args:       in.Args,
		Gen:        gen,
		DeadlineAt: time.Now().Add(o.jobTimeout),
	}

	created := time.Now().UTC()
	if err := o.jobs.Submit(req); err != nil {
		code := intent.ErrExecution
		switch {
		case errors.Is(err, pool.ErrQueueFull):
			code = intent.ErrOverflow
		case errors.Is(err, pool.ErrStopped):
			code = intent.ErrUnavailable
		}
		res := intent.ExecutionResult{Intent: in, ErrCode: code, Error: err.Error()}
		o.logJob(ctx, jobID, turnID, in, res, gen, created)
		return res
	}

	resp := o.jobs.AwaitResult(ctx, jobID, o.jobTimeout)
	res := resultFromResponse(in, resp)
	o.logJob(ctx, jobID, turnID, in, res, gen, created)
	return res
}

func (o *Orchestrator) setTimer(in intent.ActionIntent, gen uint64) intent.ExecutionResult {
	secs, ok := in.Args["seconds"].(float64)
	if !ok || secs <= 0 {
		return intent.ExecutionResult{
			Intent:  in,
			ErrCode: intent.ErrInvalidArgument,
			Error:   "seconds must be a positive number",
		}
	}
	label, _ := in.Args["label"].(string)
	id := uuid.NewString()
	o.timers.Set(id, time.Duration(secs*float64(time.Second)), label, gen)
	return intent.ExecutionResult{
		Intent:  in,
		OK:      true,
		Payload: map[string]any{"timer_id": id, "seconds": secs, "label": label},
	}
}

func (o *Orchestrator) logJob(ctx context.Context, jobID, turnID string, in intent.ActionIntent, res intent.ExecutionResult, gen uint64, created time.Time) {
	if o.history == nil {
		return
	}
	status := "ok"
	if !res.OK {
		status = "error"
	}
	err := o.history.RecordJob(ctx, history.Job{
		JobID:     jobID,
		TurnID:    turnID,
		Tool:      in.Tool,
		Args:      in.Args,
		Status:    status,
		ErrCode:   string(res.ErrCode),
		Error:     res.Error,
		Gen:       gen,
		CreatedAt: created,
	})
	if err != nil {
		log.WithComponent("orchestrator").Warn("history record failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) finishTurn(ctx context.Context, turnID string, d intent.RoutingDecision, s intent.ExecutionSummary, logger *slog.Logger) {
	o.publish(events.TypeReply, 0, map[string]any{"turn_id": turnID, "ok": s.OK, "reply": s.Reply})
	if o.history != nil {
		if err := o.history.CompleteTurn(ctx, turnID, d, s.OK, s.Reply); err != nil {
			logger.Warn("history complete failed", "error", err)
		}
	}
}

func (o *Orchestrator) publish(eventType string, gen uint64, data any) {
	if o.hub != nil {
		o.hub.Publish(eventType, gen, data)
	}
}

// resultFromResponse converts a worker response, coercing foreign error
// codes into the taxonomy.
func resultFromResponse(in intent.ActionIntent, resp *protocol.JobResponse) intent.ExecutionResult {
	if resp.Status == "ok" {
		return intent.ExecutionResult{Intent: in, OK: true, Payload: resp.Payload}
	}
	return intent.ExecutionResult{
		Intent:  in,
		ErrCode: intent.CoerceErrCode(resp.ErrCode),
		Error:   resp.Error,
	}
}

func routeErrCode(err error) intent.ErrCode {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return intent.ErrTimeout
	case errors.Is(err, llm.ErrUnavailable):
		return intent.ErrUnavailable
	default:
		return intent.ErrUnavailable
	}
}

// summarize builds the spoken reply: formatted successes first, then one
// apology for the first failure.
func summarize(intents []intent.ActionIntent, results []intent.ExecutionResult) intent.ExecutionSummary {
	ok := len(results) > 0
	var parts []string
	var firstFailure *intent.ExecutionResult

	for i := range results {
		r := results[i]
		if r.OK {
			if line := formatReply(r.Intent.Tool, r.Intent.Args, r.Payload); line != "" {
				parts = append(parts, line)
			}
			continue
		}
		ok = false
		if firstFailure == nil {
			firstFailure = &r
		}
	}
	if len(results) < len(intents) {
		ok = false
	}

	if firstFailure != nil {
		parts = append(parts, apologyFor(firstFailure.ErrCode))
	}
	reply := strings.Join(parts, " ")
	if reply == "" {
		reply = "Done."
	}
	return intent.ExecutionSummary{Results: results, OK: ok, Reply: reply}
}

func failureSummary(code intent.ErrCode) intent.ExecutionSummary {
	return intent.ExecutionSummary{OK: false, Reply: apologyFor(code)}
}
