// Package tts abstracts speech output. Stop must cut the current utterance
// immediately; barge-in depends on it.
package tts

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattjoyce/herald/internal/log"
)

// Speaker renders replies. Speak blocks until the utterance finishes or is
// stopped.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// CommandSpeaker pipes text to an external synthesis command, one process
// per utterance (espeak-ng, piper, say).
type CommandSpeaker struct {
	bin  string
	args []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCommandSpeaker(bin string, args ...string) *CommandSpeaker {
	return &CommandSpeaker{bin: bin, args: args}
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	cmd := exec.CommandContext(runCtx, s.bin, s.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	log.WithComponent("tts").Debug("speaking", "chars", len(text))
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			// Stopped mid-utterance, not a failure.
			return nil
		}
		return fmt.Errorf("speech command %s: %w", s.bin, err)
	}
	return nil
}

// Stop kills the current utterance, if any.
func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// LogSpeaker writes replies to the log instead of speaking. Default when no
// synthesis command is configured.
type LogSpeaker struct{}

func (LogSpeaker) Speak(ctx context.Context, text string) error {
	log.WithComponent("tts").Info("reply", "text", text)
	return nil
}

func (LogSpeaker) Stop() {}
