// Package worker is the runtime inside a pool worker process. It reads job
// requests from stdin one JSON line at a time, executes them against the
// builtin tool registry, and writes responses and heartbeats to stdout.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/tools"
)

const heartbeatInterval = 5 * time.Second

// Runner executes jobs for one worker process.
type Runner struct {
	slot     int
	registry *tools.Registry

	out   io.Writer
	outMu sync.Mutex
}

// NewRunner builds a worker runtime writing protocol lines to out.
func NewRunner(slot int, registry *tools.Registry, out io.Writer) *Runner {
	return &Runner{slot: slot, registry: registry, out: out}
}

// Run processes jobs until a poison pill, stdin EOF, SIGTERM, or context
// cancellation. The current job always finishes before exit.
func (r *Runner) Run(ctx context.Context, in io.Reader) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := log.WithComponent("worker").With("slot", r.slot)
	logger.Info("worker ready", "pid", os.Getpid())

	requests := make(chan *protocol.JobRequest)
	var readErr error
	go func() {
		readErr = r.readRequests(in, requests)
		close(requests)
	}()

	beat := time.NewTicker(heartbeatInterval)
	defer beat.Stop()
	r.writeHeartbeat()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping on signal")
			return nil
		case req, open := <-requests:
			if !open {
				if readErr != nil && readErr != io.EOF {
					logger.Error("stdin read failed", "error", readErr)
					return readErr
				}
				logger.Info("stdin closed; worker exiting")
				return nil
			}
			if req.IsPoison() {
				logger.Info("poison pill received; worker exiting")
				return nil
			}
			r.execute(ctx, req)
		case <-beat.C:
			r.writeHeartbeat()
		}
	}
}

func (r *Runner) readRequests(in io.Reader, out chan<- *protocol.JobRequest) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req protocol.JobRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.WithComponent("worker").Warn("bad request line", "error", err)
			continue
		}
		out <- &req
	}
	return scanner.Err()
}

func (r *Runner) execute(ctx context.Context, req *protocol.JobRequest) {
	logger := log.WithJob(req.JobID).With("tool", req.Tool, "slot", r.slot)
	start := time.Now()

	jobCtx := ctx
	if !req.DeadlineAt.IsZero() {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithDeadline(ctx, req.DeadlineAt)
		defer cancel()
	}

	payload, terr := r.registry.Execute(jobCtx, req.Tool, req.Args)
	resp := &protocol.JobResponse{
		JobID: req.JobID,
		Tool:  req.Tool,
		Gen:   req.Gen,
	}
	if terr != nil {
		resp.Status = "error"
		resp.ErrCode = string(terr.Code)
		resp.Error = terr.Message
		logger.Warn("job failed", "err_code", terr.Code, "elapsed", time.Since(start))
	} else {
		resp.Status = "ok"
		resp.Payload = payload
		logger.Info("job done", "elapsed", time.Since(start))
	}

	r.writeLine(resp)
}

func (r *Runner) writeHeartbeat() {
	r.writeLine(protocol.Heartbeat{
		Kind:     "heartbeat",
		WorkerID: r.slot,
		At:       time.Now().UTC(),
	})
}

func (r *Runner) writeLine(v any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	enc := json.NewEncoder(r.out)
	if err := enc.Encode(v); err != nil {
		log.WithComponent("worker").Error("write protocol line failed", "error", err)
	}
}
