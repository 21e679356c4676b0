package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

// CommandRunner abstracts desktop command execution so builtins can be
// tested without a display server.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	Start(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// Start launches a program without waiting for it. Used for app and URL
// opens where the child outlives the job.
func (execRunner) Start(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// classifyExecErr maps command failures onto the error taxonomy. A missing
// binary means the capability is absent on this host, not a bad call.
func classifyExecErr(err error, out string) *Error {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return Errf(intent.ErrUnavailable, "%s not installed", execErr.Name)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Errf(intent.ErrTimeout, "command timed out")
	}
	msg := strings.TrimSpace(out)
	if msg == "" {
		msg = err.Error()
	}
	return Errf(intent.ErrExecution, "%s", msg)
}
