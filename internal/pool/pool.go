// Package pool runs tool jobs on a fixed set of isolated worker processes.
// Workers speak the JSON-lines job protocol on stdin/stdout; a crash takes
// down one job, never the runtime.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
)

var (
	// ErrQueueFull is returned by Submit when the job queue is at
	// capacity. Submit never blocks.
	ErrQueueFull = errors.New("job queue full")
	// ErrDuplicateJob is returned when a job id is already pending.
	ErrDuplicateJob = errors.New("job id already pending")
	// ErrStopped is returned after Stop has begun.
	ErrStopped = errors.New("pool stopped")
)

const (
	defaultWorkers      = 3
	minWorkers          = 1
	maxWorkers          = 5
	defaultQueueSize    = 50
	defaultJobTimeout   = 30 * time.Second
	defaultGracePeriod  = 5 * time.Second
	heartbeatTimeout    = 15 * time.Second
	respawnBackoff      = 500 * time.Millisecond
	maxRespawnsPerMin   = 5
)

// SpawnFunc creates one worker process for a slot.
type SpawnFunc func(slot int) (WorkerProc, error)

// WorkerProc is one live worker process. The pool owns its lifecycle.
type WorkerProc interface {
	// Send writes one job request to the worker's stdin.
	Send(req *protocol.JobRequest) error
	// Lines yields stdout lines: job responses and heartbeats.
	Lines() <-chan []byte
	// Exited is closed when the process has exited.
	Exited() <-chan struct{}
	// Terminate asks the process to stop (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// PID identifies the process for logs.
	PID() int
}

// Config sizes and times the pool. Zero values take defaults.
type Config struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
	GracePeriod time.Duration
	Spawn       SpawnFunc
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Workers < minWorkers {
		c.Workers = minWorkers
	}
	if c.Workers > maxWorkers {
		c.Workers = maxWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	return c
}

// Manager is the worker pool.
type Manager struct {
	cfg  Config
	jobs chan *protocol.JobRequest

	mu      sync.Mutex
	pending map[string]struct{}
	waiters map[string]chan *protocol.JobResponse

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewManager builds a pool. Spawn is required.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.Spawn == nil {
		return nil, fmt.Errorf("pool: spawn function is required")
	}
	return &Manager{
		cfg:     cfg,
		jobs:    make(chan *protocol.JobRequest, cfg.QueueSize),
		pending: make(map[string]struct{}),
		waiters: make(map[string]chan *protocol.JobResponse),
	}, nil
}

// Start launches the worker slots.
func (m *Manager) Start() {
	for slot := 0; slot < m.cfg.Workers; slot++ {
		m.wg.Add(1)
		go m.runSlot(slot)
	}
	log.WithComponent("pool").Info("pool started", "workers", m.cfg.Workers, "queue", m.cfg.QueueSize)
}

// Submit enqueues one job. It fails fast: a full queue is an overflow, a
// pending duplicate id is rejected, a stopped pool accepts nothing.
func (m *Manager) Submit(req *protocol.JobRequest) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if req.JobID == "" || req.IsPoison() {
		return fmt.Errorf("pool: invalid job id %q", req.JobID)
	}

	m.mu.Lock()
	if _, dup := m.pending[req.JobID]; dup {
		m.mu.Unlock()
		return ErrDuplicateJob
	}
	m.pending[req.JobID] = struct{}{}
	ch := make(chan *protocol.JobResponse, 1)
	m.waiters[req.JobID] = ch
	m.mu.Unlock()

	select {
	case m.jobs <- req:
		return nil
	default:
		m.forget(req.JobID)
		return ErrQueueFull
	}
}

// AwaitResult blocks until the job's result arrives, the context ends, or
// the timeout elapses. A timeout yields a synthetic timeout result; the job
// id stays burned so a late worker answer is dropped.
func (m *Manager) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) *protocol.JobResponse {
	m.mu.Lock()
	ch, ok := m.waiters[jobID]
	m.mu.Unlock()
	if !ok {
		return syntheticError(jobID, intent.ErrExecution, "unknown job id")
	}

	if timeout <= 0 {
		timeout = m.cfg.JobTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		m.forget(jobID)
		return resp
	case <-timer.C:
		m.forget(jobID)
		return syntheticError(jobID, intent.ErrTimeout, "job timed out")
	case <-ctx.Done():
		m.forget(jobID)
		return syntheticError(jobID, intent.ErrTimeout, "wait canceled")
	}
}

// Pending reports the number of jobs submitted but not yet resolved.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stop drains the pool: one poison pill per worker, then the grace period,
// then force kill via each slot's serve loop.
func (m *Manager) Stop(ctx context.Context) {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	logger := log.WithComponent("pool")
	logger.Info("pool stopping")

	for i := 0; i < m.cfg.Workers; i++ {
		select {
		case m.jobs <- &protocol.JobRequest{Protocol: protocol.WorkerProtocolVersion, JobID: protocol.PoisonJobID}:
		default:
			// Queue full of unstarted jobs; slots will still see
			// stopped and exit after the current job.
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("pool stopped")
	case <-ctx.Done():
		logger.Warn("pool stop timed out; workers killed")
	}
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.pending, jobID)
	delete(m.waiters, jobID)
	m.mu.Unlock()
}

// deliver hands a result to its waiter. Results for forgotten jobs are
// dropped: at most one outcome per job id. The waiter entry stays until
// AwaitResult consumes it, so a result that lands before the await is kept.
func (m *Manager) deliver(resp *protocol.JobResponse) {
	m.mu.Lock()
	ch, ok := m.waiters[resp.JobID]
	m.mu.Unlock()
	if !ok {
		log.WithComponent("pool").Debug("dropping result for forgotten job", "job_id", resp.JobID)
		return
	}
	select {
	case ch <- resp:
	default:
		// A second outcome for the same id; the first one wins.
	}
}

func syntheticError(jobID string, code intent.ErrCode, msg string) *protocol.JobResponse {
	return &protocol.JobResponse{
		Status:  "error",
		JobID:   jobID,
		ErrCode: string(code),
		Error:   msg,
	}
}

// runSlot keeps one worker slot alive: spawn, serve, respawn on crash.
func (m *Manager) runSlot(slot int) {
	defer m.wg.Done()
	logger := log.WithComponent("pool").With("slot", slot)

	respawns := 0
	windowStart := time.Now()

	for !m.stopped.Load() {
		if time.Since(windowStart) > time.Minute {
			respawns = 0
			windowStart = time.Now()
		}
		if respawns >= maxRespawnsPerMin {
			logger.Error("worker slot disabled: too many respawns")
			return
		}

		proc, err := m.cfg.Spawn(slot)
		if err != nil {
			respawns++
			logger.Error("spawn worker failed", "error", err)
			time.Sleep(respawnBackoff)
			continue
		}
		logger.Info("worker spawned", "pid", proc.PID())

		clean := m.serve(slot, proc, logger)
		if clean {
			return
		}
		respawns++
		logger.Warn("worker exited unexpectedly; respawning", "pid", proc.PID())
		time.Sleep(respawnBackoff)
	}
}

// serve runs jobs on one live worker. Returns true on orderly shutdown,
// false when the worker must be replaced.
func (m *Manager) serve(slot int, proc WorkerProc, logger *slog.Logger) bool {
	lastBeat := time.Now()
	beatCheck := time.NewTicker(heartbeatTimeout / 3)
	defer beatCheck.Stop()

	for {
		select {
		case req := <-m.jobs:
			if req.IsPoison() {
				m.shutdownWorker(proc, logger)
				return true
			}
			if crashed := m.runJob(proc, req, &lastBeat, logger); crashed {
				return false
			}
		case line, open := <-proc.Lines():
			if !open {
				continue
			}
			// Idle chatter: heartbeats only.
			if _, hb, err := protocol.DecodeWorkerLine(line); err == nil && hb != nil {
				lastBeat = time.Now()
			}
		case <-proc.Exited():
			return false
		case <-beatCheck.C:
			if time.Since(lastBeat) > heartbeatTimeout {
				logger.Warn("worker silent past heartbeat deadline; recycling", "pid", proc.PID())
				m.shutdownWorker(proc, logger)
				return false
			}
		}
	}
}

// runJob sends one request and waits for its response on this worker.
// Returns true when the worker crashed or hung and must be replaced.
func (m *Manager) runJob(proc WorkerProc, req *protocol.JobRequest, lastBeat *time.Time, logger *slog.Logger) bool {
	if err := proc.Send(req); err != nil {
		logger.Error("send job failed", "job_id", req.JobID, "error", err)
		m.deliver(syntheticError(req.JobID, intent.ErrWorkerCrash, "worker rejected job"))
		m.shutdownWorker(proc, logger)
		return true
	}

	timer := time.NewTimer(m.cfg.JobTimeout)
	defer timer.Stop()

	for {
		select {
		case line, open := <-proc.Lines():
			if !open {
				m.deliver(syntheticError(req.JobID, intent.ErrWorkerCrash, "worker closed stdout mid-job"))
				m.shutdownWorker(proc, logger)
				return true
			}
			resp, hb, err := protocol.DecodeWorkerLine(line)
			if err != nil {
				logger.Warn("bad worker output", "job_id", req.JobID, "error", err)
				continue
			}
			if hb != nil {
				*lastBeat = time.Now()
				continue
			}
			if resp.JobID != req.JobID {
				logger.Warn("response for wrong job", "want", req.JobID, "got", resp.JobID)
				continue
			}
			*lastBeat = time.Now()
			m.deliver(resp)
			return false
		case <-proc.Exited():
			m.deliver(syntheticError(req.JobID, intent.ErrWorkerCrash, "worker crashed mid-job"))
			return true
		case <-timer.C:
			m.deliver(syntheticError(req.JobID, intent.ErrTimeout, "worker did not answer in time"))
			m.shutdownWorker(proc, logger)
			return true
		}
	}
}

// shutdownWorker ends one process: poison pill, SIGTERM, grace, SIGKILL.
func (m *Manager) shutdownWorker(proc WorkerProc, logger *slog.Logger) {
	_ = proc.Send(&protocol.JobRequest{Protocol: protocol.WorkerProtocolVersion, JobID: protocol.PoisonJobID})
	_ = proc.Terminate()

	select {
	case <-proc.Exited():
		return
	case <-time.After(m.cfg.GracePeriod):
	}

	logger.Warn("worker ignored SIGTERM; killing", "pid", proc.PID())
	_ = proc.Kill()
	<-proc.Exited()
}
