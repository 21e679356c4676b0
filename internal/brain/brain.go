// Package brain is the decision side of the frame channel: it turns
// TRANSCRIPT frames into orchestrated turns and RESULT frames, and answers
// INTERRUPT frames by advancing the generation and abandoning work in
// flight.
package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/ipc"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/metrics"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/timer"
)

// Turner runs one user turn end to end.
type Turner interface {
	HandleUserText(ctx context.Context, text string, gen uint64) intent.ExecutionSummary
}

// Loop owns the brain side of a link.
type Loop struct {
	link   ipc.Link
	orch   Turner
	timers *timer.Service // optional

	gen atomic.Uint64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // turn id -> abandon
}

// NewLoop builds a brain loop. timers may be nil.
func NewLoop(link ipc.Link, orch Turner, timers *timer.Service) *Loop {
	return &Loop{
		link:    link,
		orch:    orch,
		timers:  timers,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Gen returns the current interrupt generation.
func (l *Loop) Gen() uint64 {
	return l.gen.Load()
}

// Run processes frames until SHUTDOWN, link close, or ctx cancellation.
func (l *Loop) Run(ctx context.Context) error {
	logger := log.WithComponent("brain")
	var turns sync.WaitGroup
	defer turns.Wait()

	if l.timers != nil {
		go l.announceTimers(ctx)
	}

	for {
		f, err := l.link.Recv(ctx)
		if err != nil {
			if errors.Is(err, ipc.ErrClosed) {
				logger.Info("link closed, brain exiting")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive frame: %w", err)
		}

		switch f.Type {
		case protocol.FrameTranscript:
			l.handleTranscript(ctx, f, &turns, logger)
		case protocol.FrameInterrupt:
			l.handleInterrupt(ctx, logger)
		case protocol.FrameShutdown:
			logger.Info("shutdown frame received")
			return nil
		default:
			logger.Warn("unexpected frame on brain side", "type", f.Type)
		}
	}
}

func (l *Loop) handleTranscript(ctx context.Context, f *protocol.Frame, turns *sync.WaitGroup, logger *slog.Logger) {
	current := l.gen.Load()
	if f.Gen < current {
		metrics.StaleDropsTotal.Inc()
		logger.Warn("dropping stale transcript", "frame_gen", f.Gen, "gen", current)
		return
	}

	var p protocol.TranscriptPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		logger.Warn("bad transcript payload", "error", err)
		return
	}
	if !p.Final || p.Text == "" {
		return
	}

	turnID := f.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}

	turnCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancels[turnID] = cancel
	l.mu.Unlock()

	turns.Add(1)
	go func() {
		defer turns.Done()
		defer func() {
			cancel()
			l.mu.Lock()
			delete(l.cancels, turnID)
			l.mu.Unlock()
		}()

		summary := l.orch.HandleUserText(turnCtx, p.Text, current)
		if l.gen.Load() != current {
			// Interrupted while thinking: the reply is for a dead turn.
			metrics.StaleDropsTotal.Inc()
			return
		}
		l.sendResult(ctx, turnID, current, summary)
	}()
}

func (l *Loop) handleInterrupt(ctx context.Context, logger *slog.Logger) {
	newGen := l.gen.Add(1)
	metrics.InterruptsTotal.Inc()

	l.mu.Lock()
	abandoned := len(l.cancels)
	for id, cancel := range l.cancels {
		cancel()
		delete(l.cancels, id)
	}
	l.mu.Unlock()

	logger.Info("interrupt processed", "gen", newGen, "abandoned", abandoned)

	ack, err := protocol.NewFrame(protocol.FrameInterruptAck, newGen, "", protocol.InterruptAckPayload{AbandonedJobs: abandoned})
	if err != nil {
		logger.Warn("build interrupt ack", "error", err)
		return
	}
	if err := l.link.Send(ctx, ack); err != nil {
		logger.Warn("send interrupt ack", "error", err)
	}
}

func (l *Loop) sendResult(ctx context.Context, turnID string, gen uint64, s intent.ExecutionSummary) {
	body := protocol.ResultPayload{Reply: s.Reply, OK: s.OK, ErrCode: firstErrCode(s)}
	f, err := protocol.NewFrame(protocol.FrameResult, gen, turnID, body)
	if err != nil {
		log.WithComponent("brain").Warn("build result frame", "error", err)
		return
	}
	if err := l.link.Send(ctx, f); err != nil && !errors.Is(err, ipc.ErrClosed) {
		log.WithComponent("brain").Warn("send result frame", "error", err)
	}
}

// announceTimers turns fired timers into RESULT frames. A timer set before
// an interrupt stays silent.
func (l *Loop) announceTimers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fired, ok := <-l.timers.Fired():
			if !ok {
				return
			}
			if l.gen.Load() != fired.Gen {
				metrics.StaleDropsTotal.Inc()
				continue
			}
			reply := "Your timer is finished."
			if fired.Label != "" {
				reply = fmt.Sprintf("Your %s timer is finished.", fired.Label)
			}
			f, err := protocol.NewFrame(protocol.FrameResult, fired.Gen, fired.ID, protocol.ResultPayload{Reply: reply, OK: true})
			if err != nil {
				continue
			}
			if err := l.link.Send(ctx, f); err != nil {
				return
			}
		}
	}
}

func firstErrCode(s intent.ExecutionSummary) string {
	if s.OK {
		return ""
	}
	for _, r := range s.Results {
		if !r.OK {
			return string(r.ErrCode)
		}
	}
	return string(intent.ErrExecution)
}
