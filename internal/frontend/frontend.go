// Package frontend is the interaction side of the frame channel: it feeds
// transcripts to the brain, speaks RESULT frames, turns barge-in speech into
// INTERRUPT frames, and drives the follow-up window.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/ipc"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/metrics"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/state"
	"github.com/mattjoyce/herald/internal/stt"
	"github.com/mattjoyce/herald/internal/tts"
)

// followupPoll is how often the follow-up window is checked for silence.
const followupPoll = 250 * time.Millisecond

// Frontend runs the interaction loop.
type Frontend struct {
	link    ipc.Link
	src     stt.Source
	speaker tts.Speaker
	machine *state.Machine
	window  *state.FollowupWindow
	hub     *events.Hub // optional

	logger *slog.Logger

	// pending holds the utterance that caused a barge-in until the brain
	// acknowledges the interrupt.
	pending *stt.Transcript

	speechDone chan uint64 // gen the finished utterance was spoken under
}

// New wires a frontend. hub may be nil.
func New(link ipc.Link, src stt.Source, speaker tts.Speaker, hub *events.Hub) *Frontend {
	f := &Frontend{
		link:       link,
		src:        src,
		speaker:    speaker,
		machine:    state.NewMachine(),
		window:     state.NewFollowupWindow(),
		hub:        hub,
		logger:     log.WithComponent("frontend"),
		speechDone: make(chan uint64, 1),
	}
	f.machine.OnEnter(func(from, to state.Phase, gen uint64) {
		if f.hub != nil {
			f.hub.Publish(events.TypeStateChanged, gen, map[string]any{"from": from, "to": to})
		}
	})
	return f
}

// Machine exposes the state machine for status reporting.
func (f *Frontend) Machine() *state.Machine {
	return f.machine
}

// ConfigureFollowup overrides the followup window timing. Zero values keep
// the defaults.
func (f *Frontend) ConfigureFollowup(timeout, grace time.Duration, maxChain int) {
	if timeout > 0 {
		f.window.Timeout = timeout
	}
	if grace > 0 {
		f.window.Grace = grace
	}
	if maxChain > 0 {
		f.window.MaxChain = maxChain
	}
}

// Interrupt forces a barge-in from outside the audio path (API, hotkey).
func (f *Frontend) Interrupt(ctx context.Context) error {
	f.speaker.Stop()
	f.window.Close()
	gen := f.machine.Interrupt()
	if f.hub != nil {
		f.hub.Publish(events.TypeInterrupt, gen, nil)
	}
	frame, err := protocol.NewFrame(protocol.FrameInterrupt, gen, "", nil)
	if err != nil {
		return err
	}
	return f.link.Send(ctx, frame)
}

// Run drives the loop until the source ends, the link closes, or ctx is
// cancelled. A SHUTDOWN frame is sent on the way out.
func (f *Frontend) Run(ctx context.Context) error {
	transcripts := make(chan stt.Transcript)
	srcErr := make(chan error, 1)
	go func() {
		for {
			tr, err := f.src.Next(ctx)
			if err != nil {
				srcErr <- err
				return
			}
			select {
			case transcripts <- tr:
			case <-ctx.Done():
				return
			}
		}
	}()

	frames := make(chan *protocol.Frame)
	linkErr := make(chan error, 1)
	go func() {
		for {
			frame, err := f.link.Recv(ctx)
			if err != nil {
				linkErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(followupPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return ctx.Err()

		case err := <-srcErr:
			f.shutdown()
			if errors.Is(err, stt.ErrDone) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("transcript source: %w", err)

		case err := <-linkErr:
			if errors.Is(err, ipc.ErrClosed) || errors.Is(err, context.Canceled) {
				f.logger.Info("brain link closed")
				return nil
			}
			return fmt.Errorf("brain link: %w", err)

		case tr := <-transcripts:
			f.handleUtterance(ctx, tr)

		case frame := <-frames:
			f.handleFrame(ctx, frame)

		case gen := <-f.speechDone:
			f.afterSpeech(gen)

		case <-ticker.C:
			if f.window.TimedOut() && f.machine.Phase() == state.Followup {
				f.logger.Info("followup window timed out")
				f.toIdle()
			}
		}
	}
}

func (f *Frontend) handleUtterance(ctx context.Context, tr stt.Transcript) {
	phase := f.machine.Phase()

	switch phase {
	case state.Thinking, state.Speaking:
		f.bargeIn(ctx, tr)

	case state.Followup:
		if f.window.InGrace() {
			f.logger.Debug("speech in grace period ignored", "text", tr.Text)
			return
		}
		if state.IsExitPhrase(tr.Text) {
			f.logger.Info("followup exit phrase", "text", tr.Text)
			f.window.Close()
			f.toIdle()
			return
		}
		f.window.Extend()
		chainOK := f.window.Chain()
		f.sendTranscript(ctx, tr, !chainOK)

	default:
		f.sendTranscript(ctx, tr, false)
	}
}

// sendTranscript moves the machine to THINKING and ships the utterance.
// closingWindow marks the last turn a follow-up chain allows.
func (f *Frontend) sendTranscript(ctx context.Context, tr stt.Transcript, closingWindow bool) {
	followup := f.machine.Phase() == state.Followup
	if closingWindow {
		f.window.Close()
	}

	var steps []state.Phase
	if followup {
		steps = []state.Phase{state.Thinking}
	} else {
		steps = []state.Phase{state.Listening, state.Transcribing, state.Thinking}
	}
	for _, p := range steps {
		if err := f.machine.TransitionTo(p); err != nil {
			f.logger.Warn("transition failed", "error", err)
			return
		}
	}

	gen := f.machine.Gen()
	payload := protocol.TranscriptPayload{
		Text:     tr.Text,
		Final:    tr.Final,
		HeardAt:  tr.HeardAt,
		Followup: followup,
	}
	frame, err := protocol.NewFrame(protocol.FrameTranscript, gen, uuid.NewString(), payload)
	if err != nil {
		f.logger.Error("build transcript frame", "error", err)
		f.toIdle()
		return
	}
	if err := f.link.Send(ctx, frame); err != nil {
		f.logger.Error("send transcript", "error", err)
		f.toIdle()
	}
}

// bargeIn stops output, advances the generation, and parks the utterance
// until the brain acknowledges.
func (f *Frontend) bargeIn(ctx context.Context, tr stt.Transcript) {
	f.logger.Info("barge-in", "text", tr.Text)
	f.speaker.Stop()
	f.window.Close()
	gen := f.machine.Interrupt()
	if f.hub != nil {
		f.hub.Publish(events.TypeInterrupt, gen, map[string]any{"text": tr.Text})
	}
	f.pending = &tr

	frame, err := protocol.NewFrame(protocol.FrameInterrupt, gen, "", nil)
	if err != nil {
		f.logger.Error("build interrupt frame", "error", err)
		return
	}
	if err := f.link.Send(ctx, frame); err != nil {
		f.logger.Error("send interrupt", "error", err)
	}
}

func (f *Frontend) handleFrame(ctx context.Context, frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameResult:
		f.handleResult(ctx, frame)

	case protocol.FrameInterruptAck:
		var p protocol.InterruptAckPayload
		_ = json.Unmarshal(frame.Payload, &p)
		f.logger.Info("interrupt acknowledged", "gen", frame.Gen, "abandoned_jobs", p.AbandonedJobs)
		if f.pending != nil {
			tr := *f.pending
			f.pending = nil
			f.sendTranscript(ctx, tr, false)
		}

	default:
		f.logger.Warn("unexpected frame on front side", "type", frame.Type)
	}
}

func (f *Frontend) handleResult(ctx context.Context, frame *protocol.Frame) {
	if f.machine.Stale(frame.Gen) {
		metrics.StaleDropsTotal.Inc()
		f.logger.Info("dropping stale result", "frame_gen", frame.Gen, "gen", f.machine.Gen())
		return
	}

	var p protocol.ResultPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		f.logger.Warn("bad result payload", "error", err)
		return
	}

	announcement := f.machine.Phase() != state.Thinking
	if !announcement {
		if err := f.machine.TransitionTo(state.Speaking); err != nil {
			f.logger.Warn("transition to speaking failed", "error", err)
			announcement = true
		}
	}

	gen := frame.Gen
	go func() {
		if err := f.speaker.Speak(ctx, p.Reply); err != nil {
			f.logger.Warn("speech failed", "error", err)
		}
		if announcement {
			// Timer and other out-of-turn announcements don't open a
			// follow-up window.
			return
		}
		select {
		case f.speechDone <- gen:
		default:
		}
	}()
}

// afterSpeech opens the follow-up window unless an interrupt landed while
// speaking.
func (f *Frontend) afterSpeech(gen uint64) {
	if f.machine.Stale(gen) || f.machine.Phase() != state.Speaking {
		return
	}
	if err := f.machine.TransitionTo(state.Followup); err != nil {
		f.logger.Warn("transition to followup failed", "error", err)
		f.toIdle()
		return
	}
	f.window.Open()
}

func (f *Frontend) toIdle() {
	if err := f.machine.TransitionTo(state.Idle); err != nil {
		f.logger.Warn("transition to idle failed", "error", err)
	}
}

func (f *Frontend) shutdown() {
	f.speaker.Stop()
	frame, err := protocol.NewFrame(protocol.FrameShutdown, f.machine.Gen(), "", nil)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.link.Send(ctx, frame)
	}
}
