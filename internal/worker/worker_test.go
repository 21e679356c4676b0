package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/tools"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.Tool{
		Name:      "echo",
		ArgSchema: map[string]any{"msg": "string"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *tools.Error) {
			return map[string]any{"msg": args["msg"]}, nil
		},
	})
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return r
}

func requestLine(t *testing.T, req *protocol.JobRequest) string {
	t.Helper()
	var buf bytes.Buffer
	if err := protocol.EncodeJobRequest(&buf, req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return buf.String()
}

func responsesFrom(t *testing.T, output string) []*protocol.JobResponse {
	t.Helper()
	var out []*protocol.JobResponse
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		resp, hb, err := protocol.DecodeWorkerLine(scanner.Bytes())
		if err != nil {
			t.Fatalf("bad output line %q: %v", scanner.Text(), err)
		}
		if hb != nil {
			continue
		}
		out = append(out, resp)
	}
	return out
}

func TestRunnerExecutesAndExitsOnEOF(t *testing.T) {
	out := &syncBuffer{}
	r := NewRunner(0, echoRegistry(t), out)

	input := requestLine(t, &protocol.JobRequest{
		Protocol: protocol.WorkerProtocolVersion,
		JobID:    "j1",
		Tool:     "echo",
		Args:     map[string]any{"msg": "hi"},
		Gen:      4,
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), strings.NewReader(input)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit on EOF")
	}

	resps := responsesFrom(t, out.String())
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Status != "ok" || resps[0].JobID != "j1" || resps[0].Gen != 4 {
		t.Errorf("unexpected response: %+v", resps[0])
	}
}

func TestRunnerPoisonPill(t *testing.T) {
	out := &syncBuffer{}
	r := NewRunner(1, echoRegistry(t), out)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), pr) }()

	pill := requestLine(t, &protocol.JobRequest{
		Protocol: protocol.WorkerProtocolVersion,
		JobID:    protocol.PoisonJobID,
	})
	if _, err := pw.Write([]byte(pill)); err != nil {
		t.Fatalf("write pill: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit on poison pill")
	}
	_ = pw.Close()
}

func TestRunnerReportsToolError(t *testing.T) {
	out := &syncBuffer{}
	r := NewRunner(0, echoRegistry(t), out)

	input := requestLine(t, &protocol.JobRequest{
		Protocol: protocol.WorkerProtocolVersion,
		JobID:    "j2",
		Tool:     "no_such_tool",
		Args:     map[string]any{},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), strings.NewReader(input)) }()
	<-done

	resps := responsesFrom(t, out.String())
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Status != "error" || resps[0].ErrCode != "invalid_argument" {
		t.Errorf("unexpected response: %+v", resps[0])
	}
}

func TestRunnerEmitsHeartbeatOnStart(t *testing.T) {
	out := &syncBuffer{}
	r := NewRunner(2, echoRegistry(t), out)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), strings.NewReader("")) }()
	<-done

	var sawBeat bool
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var probe struct {
			Kind string `json:"kind"`
		}
		if json.Unmarshal(scanner.Bytes(), &probe) == nil && probe.Kind == "heartbeat" {
			sawBeat = true
		}
	}
	if !sawBeat {
		t.Error("no heartbeat in worker output")
	}
}
