package ipc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
)

// terminationGracePeriod is how long we wait after closing stdin, and again
// after SIGTERM, before escalating.
const terminationGracePeriod = 5 * time.Second

// PipeLink runs the brain as a subprocess and exchanges frames over its
// stdin/stdout. Stderr is relayed to the parent's logs.
type PipeLink struct {
	cmd    *exec.Cmd
	stream *StreamLink
	stdin  io.Closer

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// SpawnBrain re-executes the current binary as "brain run" and links to it.
// Extra args are appended after the subcommand.
func SpawnBrain(extraArgs ...string) (*PipeLink, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own binary: %w", err)
	}
	args := append([]string{"brain", "run"}, extraArgs...)
	return SpawnProcess(self, args...)
}

// SpawnProcess starts an arbitrary frame-speaking subprocess. Split out so
// tests can point it at a scripted peer.
func SpawnProcess(bin string, args ...string) (*PipeLink, error) {
	// Termination is managed here, not by a context.
	cmd := exec.Command(bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start brain process: %w", err)
	}
	log.WithComponent("ipc").Info("brain process started", "pid", cmd.Process.Pid, "bin", bin)

	l := &PipeLink{
		cmd:    cmd,
		stream: NewStreamLink(stdout, stdin),
		stdin:  stdin,
		done:   make(chan struct{}),
	}
	go func() {
		l.waitOnce.Do(func() { l.waitErr = cmd.Wait() })
		close(l.done)
	}()
	return l, nil
}

func (l *PipeLink) Send(ctx context.Context, f *protocol.Frame) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.stream.Send(ctx, f)
}

func (l *PipeLink) Recv(ctx context.Context) (*protocol.Frame, error) {
	return l.stream.Recv(ctx)
}

// Close asks the brain to exit and escalates if it won't: SHUTDOWN frame and
// stdin close first, then SIGTERM, then SIGKILL after the grace period.
func (l *PipeLink) Close() error {
	l.closeOnce.Do(func() {
		logger := log.WithComponent("ipc")

		shutdown := &protocol.Frame{Type: protocol.FrameShutdown}
		if err := l.stream.Send(context.Background(), shutdown); err != nil {
			logger.Warn("could not send shutdown frame", "error", err)
		}
		_ = l.stdin.Close()

		if l.waitForExit(terminationGracePeriod) {
			logger.Info("brain exited cleanly")
			l.closeErr = l.stream.Close()
			return
		}

		logger.Warn("brain did not exit, sending SIGTERM")
		if l.cmd.Process != nil {
			if err := l.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}
		if l.waitForExit(terminationGracePeriod) {
			logger.Info("brain exited after SIGTERM")
			l.closeErr = l.stream.Close()
			return
		}

		logger.Warn("brain did not exit after SIGTERM, sending SIGKILL")
		if l.cmd.Process != nil {
			if err := l.cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-l.done
		l.closeErr = l.stream.Close()
	})
	return l.closeErr
}

func (l *PipeLink) waitForExit(d time.Duration) bool {
	select {
	case <-l.done:
		return true
	case <-time.After(d):
		return false
	}
}
