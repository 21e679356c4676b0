package pool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
)

const maxLineBytes = 1 << 20 // 1 MiB per stdout line

// procWorker is a WorkerProc backed by a real child process running
// "herald worker run". Stdout carries protocol lines; stderr is the
// worker's own slog stream, forwarded to our log.
type procWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	exited chan struct{}
}

// SelfSpawn returns a SpawnFunc that re-executes the current binary as a
// worker. extraArgs are appended after "worker run".
func SelfSpawn(extraArgs ...string) SpawnFunc {
	return func(slot int) (WorkerProc, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own binary: %w", err)
		}
		args := append([]string{"worker", "run", "--slot", strconv.Itoa(slot)}, extraArgs...)
		return spawnProc(self, args, slot)
	}
}

func spawnProc(bin string, args []string, slot int) (WorkerProc, error) {
	cmd := exec.Command(bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	w := &procWorker{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, 16),
		exited: make(chan struct{}),
	}

	go w.readLines(stdout)
	go forwardStderr(stderr, slot)
	go func() {
		_ = cmd.Wait()
		close(w.exited)
	}()

	return w, nil
}

func (w *procWorker) readLines(stdout io.Reader) {
	defer close(w.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		w.lines <- line
	}
}

// forwardStderr relays the worker's log stream line by line.
func forwardStderr(stderr io.Reader, slot int) {
	logger := log.WithComponent("worker-stderr").With("slot", slot)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
}

func (w *procWorker) Send(req *protocol.JobRequest) error {
	return protocol.EncodeJobRequest(w.stdin, req)
}

func (w *procWorker) Lines() <-chan []byte { return w.lines }

func (w *procWorker) Exited() <-chan struct{} { return w.exited }

func (w *procWorker) Terminate() error {
	// Closing stdin lets a draining worker notice shutdown even if it
	// missed the pill.
	_ = w.stdin.Close()
	if w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Signal(syscall.SIGTERM)
}

func (w *procWorker) Kill() error {
	if w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Kill()
}

func (w *procWorker) PID() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}
