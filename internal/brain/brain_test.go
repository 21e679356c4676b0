package brain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/ipc"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/timer"
)

type scriptedTurner struct {
	reply   string
	ok      bool
	block   bool // wait for ctx cancellation before returning
	started chan struct{}
}

func (s *scriptedTurner) HandleUserText(ctx context.Context, text string, gen uint64) intent.ExecutionSummary {
	if s.started != nil {
		close(s.started)
	}
	if s.block {
		<-ctx.Done()
		return intent.ExecutionSummary{OK: false, Reply: "abandoned"}
	}
	return intent.ExecutionSummary{OK: s.ok, Reply: s.reply}
}

func startLoop(t *testing.T, orch Turner, timers *timer.Service) (*ipc.ChanLink, func()) {
	t.Helper()
	front, back := ipc.NewChanPair(8)
	loop := NewLoop(back, orch, timers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		_ = front.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("brain loop did not stop")
		}
	}
	return front, stop
}

func sendTranscript(t *testing.T, front *ipc.ChanLink, gen uint64, turnID, text string) {
	t.Helper()
	f, err := protocol.NewFrame(protocol.FrameTranscript, gen, turnID,
		protocol.TranscriptPayload{Text: text, Final: true, HeardAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), f))
}

func recvFrame(t *testing.T, front *ipc.ChanLink) *protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := front.Recv(ctx)
	require.NoError(t, err)
	return f
}

func TestTranscriptProducesResult(t *testing.T) {
	front, stop := startLoop(t, &scriptedTurner{reply: "Opening spotify.", ok: true}, nil)
	defer stop()

	sendTranscript(t, front, 0, "turn-1", "open spotify")

	f := recvFrame(t, front)
	assert.Equal(t, protocol.FrameResult, f.Type)
	assert.Equal(t, uint64(0), f.Gen)
	assert.Equal(t, "turn-1", f.TurnID)

	var p protocol.ResultPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.True(t, p.OK)
	assert.Equal(t, "Opening spotify.", p.Reply)
}

func TestInterruptAcksAndAbandons(t *testing.T) {
	turner := &scriptedTurner{block: true, started: make(chan struct{})}
	front, stop := startLoop(t, turner, nil)
	defer stop()

	sendTranscript(t, front, 0, "turn-1", "open spotify")
	<-turner.started

	intr, err := protocol.NewFrame(protocol.FrameInterrupt, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), intr))

	f := recvFrame(t, front)
	assert.Equal(t, protocol.FrameInterruptAck, f.Type)
	assert.Equal(t, uint64(1), f.Gen)

	var p protocol.InterruptAckPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, 1, p.AbandonedJobs)

	// The abandoned turn's result never arrives.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = front.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleTranscriptDropped(t *testing.T) {
	front, stop := startLoop(t, &scriptedTurner{reply: "should not run", ok: true}, nil)
	defer stop()

	// Advance the generation first.
	intr, err := protocol.NewFrame(protocol.FrameInterrupt, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), intr))
	ack := recvFrame(t, front)
	require.Equal(t, protocol.FrameInterruptAck, ack.Type)

	// Transcript tagged with the old generation must be ignored.
	sendTranscript(t, front, 0, "turn-2", "open spotify")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, recvErr := front.Recv(ctx)
	assert.ErrorIs(t, recvErr, context.DeadlineExceeded)
}

func TestNonFinalTranscriptIgnored(t *testing.T) {
	front, stop := startLoop(t, &scriptedTurner{reply: "nope", ok: true}, nil)
	defer stop()

	f, err := protocol.NewFrame(protocol.FrameTranscript, 0, "turn-1",
		protocol.TranscriptPayload{Text: "open spo", Final: false})
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), f))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, recvErr := front.Recv(ctx)
	assert.ErrorIs(t, recvErr, context.DeadlineExceeded)
}

func TestShutdownStopsLoop(t *testing.T) {
	front, back := ipc.NewChanPair(4)
	loop := NewLoop(back, &scriptedTurner{}, nil)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	f, err := protocol.NewFrame(protocol.FrameShutdown, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), f))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on shutdown frame")
	}
}

func TestTimerFiredAnnounced(t *testing.T) {
	timers := timer.NewService()
	t.Cleanup(timers.Stop)
	front, stop := startLoop(t, &scriptedTurner{}, timers)
	defer stop()

	timers.Set("t1", 10*time.Millisecond, "tea", 0)

	f := recvFrame(t, front)
	assert.Equal(t, protocol.FrameResult, f.Type)
	var p protocol.ResultPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "Your tea timer is finished.", p.Reply)
}

func TestTimerSilencedByInterrupt(t *testing.T) {
	timers := timer.NewService()
	t.Cleanup(timers.Stop)
	front, stop := startLoop(t, &scriptedTurner{}, timers)
	defer stop()

	timers.Set("t1", 50*time.Millisecond, "", 0)

	intr, err := protocol.NewFrame(protocol.FrameInterrupt, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, front.Send(context.Background(), intr))
	ack := recvFrame(t, front)
	require.Equal(t, protocol.FrameInterruptAck, ack.Type)

	// The timer was set under gen 0; after the interrupt it stays silent.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, recvErr := front.Recv(ctx)
	assert.ErrorIs(t, recvErr, context.DeadlineExceeded)
}
