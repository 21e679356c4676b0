package frontend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/ipc"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/state"
	"github.com/mattjoyce/herald/internal/stt"
)

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stopped int
	spoke   chan string
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{spoke: make(chan string, 8)}
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	s.spoke <- text
	return nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

type harness struct {
	fe      *Frontend
	brain   *ipc.ChanLink
	src     *stt.ScriptedSource
	speaker *fakeSpeaker
	cancel  context.CancelFunc
	done    chan struct{}
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	front, brain := ipc.NewChanPair(8)
	src := stt.NewScriptedSource()
	speaker := newFakeSpeaker()
	fe := New(front, src, speaker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = fe.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("frontend did not stop")
		}
	})
	return &harness{fe: fe, brain: brain, src: src, speaker: speaker, cancel: cancel, done: done}
}

func (h *harness) recvFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := h.brain.Recv(ctx)
	require.NoError(t, err)
	return f
}

func (h *harness) sendResult(t *testing.T, gen uint64, turnID, reply string) {
	t.Helper()
	f, err := protocol.NewFrame(protocol.FrameResult, gen, turnID, protocol.ResultPayload{Reply: reply, OK: true})
	require.NoError(t, err)
	require.NoError(t, h.brain.Send(context.Background(), f))
}

func waitForPhase(t *testing.T, m *state.Machine, want state.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine never reached %s (at %s)", want, m.Phase())
}

func TestUtteranceBecomesTranscriptFrame(t *testing.T) {
	h := startHarness(t)
	h.src.Push("open spotify")

	f := h.recvFrame(t)
	assert.Equal(t, protocol.FrameTranscript, f.Type)
	assert.Equal(t, uint64(0), f.Gen)
	assert.NotEmpty(t, f.TurnID)

	var p protocol.TranscriptPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "open spotify", p.Text)
	assert.True(t, p.Final)
	assert.False(t, p.Followup)

	waitForPhase(t, h.fe.Machine(), state.Thinking)
}

func TestResultIsSpokenAndOpensFollowup(t *testing.T) {
	h := startHarness(t)
	h.src.Push("what time is it")

	f := h.recvFrame(t)
	h.sendResult(t, f.Gen, f.TurnID, "It is 3:04 PM.")

	select {
	case text := <-h.speaker.spoke:
		assert.Equal(t, "It is 3:04 PM.", text)
	case <-time.After(2 * time.Second):
		t.Fatal("reply was never spoken")
	}
	waitForPhase(t, h.fe.Machine(), state.Followup)
}

func TestFollowupTurnSkipsHotword(t *testing.T) {
	h := startHarness(t)
	h.fe.window.Grace = 0

	h.src.Push("what time is it")
	first := h.recvFrame(t)
	h.sendResult(t, first.Gen, first.TurnID, "It is 3:04 PM.")
	<-h.speaker.spoke
	waitForPhase(t, h.fe.Machine(), state.Followup)

	h.src.Push("and the weather")
	f := h.recvFrame(t)
	assert.Equal(t, protocol.FrameTranscript, f.Type)

	var p protocol.TranscriptPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.True(t, p.Followup)
	waitForPhase(t, h.fe.Machine(), state.Thinking)
}

func TestExitPhraseClosesFollowup(t *testing.T) {
	h := startHarness(t)
	h.fe.window.Grace = 0

	h.src.Push("what time is it")
	first := h.recvFrame(t)
	h.sendResult(t, first.Gen, first.TurnID, "It is 3:04 PM.")
	<-h.speaker.spoke
	waitForPhase(t, h.fe.Machine(), state.Followup)

	h.src.Push("that's all")
	waitForPhase(t, h.fe.Machine(), state.Idle)
	assert.False(t, h.fe.window.Active())
}

func TestBargeInSendsInterruptAndReplays(t *testing.T) {
	h := startHarness(t)

	h.src.Push("tell me a long story")
	first := h.recvFrame(t)
	waitForPhase(t, h.fe.Machine(), state.Thinking)

	// Speech while thinking is a barge-in.
	h.src.Push("stop open spotify")

	intr := h.recvFrame(t)
	require.Equal(t, protocol.FrameInterrupt, intr.Type)
	assert.Equal(t, uint64(1), intr.Gen)

	// Brain acknowledges; the parked utterance is then sent under the new
	// generation.
	ack, err := protocol.NewFrame(protocol.FrameInterruptAck, 1, "", protocol.InterruptAckPayload{AbandonedJobs: 1})
	require.NoError(t, err)
	require.NoError(t, h.brain.Send(context.Background(), ack))

	replay := h.recvFrame(t)
	assert.Equal(t, protocol.FrameTranscript, replay.Type)
	assert.Equal(t, uint64(1), replay.Gen)

	var p protocol.TranscriptPayload
	require.NoError(t, json.Unmarshal(replay.Payload, &p))
	assert.Equal(t, "stop open spotify", p.Text)

	// The stale result for the abandoned turn is dropped silently.
	h.sendResult(t, first.Gen, first.TurnID, "Once upon a time...")
	time.Sleep(50 * time.Millisecond)
	h.speaker.mu.Lock()
	defer h.speaker.mu.Unlock()
	assert.Empty(t, h.speaker.spoken)
}

func TestFollowupWindowTimesOutToIdle(t *testing.T) {
	h := startHarness(t)
	h.fe.window.Grace = 0
	h.fe.window.Timeout = 50 * time.Millisecond

	h.src.Push("what time is it")
	first := h.recvFrame(t)
	h.sendResult(t, first.Gen, first.TurnID, "It is 3:04 PM.")
	<-h.speaker.spoke
	waitForPhase(t, h.fe.Machine(), state.Followup)

	waitForPhase(t, h.fe.Machine(), state.Idle)
}

func TestSourceEndSendsShutdown(t *testing.T) {
	front, brain := ipc.NewChanPair(8)
	src := stt.NewScriptedSource()
	fe := New(front, src, newFakeSpeaker(), nil)

	done := make(chan error, 1)
	go func() { done <- fe.Run(context.Background()) }()

	src.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := brain.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameShutdown, f.Type)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("frontend did not exit after source end")
	}
}
