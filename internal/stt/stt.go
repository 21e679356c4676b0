// Package stt abstracts where finalized transcripts come from. The runtime
// only needs text; capture and recognition live behind the Source interface
// so the front end can run off a console, a test script, or a real engine.
package stt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrDone is returned when a source has no more transcripts.
var ErrDone = errors.New("stt: source exhausted")

// Transcript is one recognized utterance.
type Transcript struct {
	Text    string
	Final   bool
	HeardAt time.Time
}

// Source yields transcripts. Next blocks until one is available.
type Source interface {
	Next(ctx context.Context) (Transcript, error)
	Close() error
}

// LineSource turns newline-delimited text into final transcripts. Used for
// console-driven sessions.
type LineSource struct {
	lines  chan string
	closed chan struct{}
}

// NewLineSource starts reading r. The reader is consumed until EOF.
func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{
		lines:  make(chan string, 4),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			select {
			case s.lines <- text:
			case <-s.closed:
				return
			}
		}
	}()
	return s
}

func (s *LineSource) Next(ctx context.Context) (Transcript, error) {
	select {
	case text, ok := <-s.lines:
		if !ok {
			return Transcript{}, ErrDone
		}
		return Transcript{Text: text, Final: true, HeardAt: time.Now()}, nil
	case <-s.closed:
		return Transcript{}, ErrDone
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
}

func (s *LineSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Merged fans several sources into one stream and additionally accepts
// direct pushes, which is how the control API injects text. It is exhausted
// when every underlying source is exhausted; with no sources it only ends on
// Close.
type Merged struct {
	out    chan Transcript
	done   chan struct{}
	closed chan struct{}
	once   sync.Once

	sources []Source
}

func NewMerged(sources ...Source) *Merged {
	m := &Merged{
		out:     make(chan Transcript, 8),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		sources: sources,
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for {
				tr, err := src.Next(context.Background())
				if err != nil {
					return
				}
				select {
				case m.out <- tr:
				case <-m.closed:
					return
				}
			}
		}(src)
	}
	if len(sources) > 0 {
		go func() {
			wg.Wait()
			close(m.done)
		}()
	}
	return m
}

// Push injects one utterance. Dropped once the source is closed.
func (m *Merged) Push(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case m.out <- Transcript{Text: text, Final: true, HeardAt: time.Now()}:
	case <-m.closed:
	}
}

func (m *Merged) Next(ctx context.Context) (Transcript, error) {
	// Drain buffered transcripts before reporting exhaustion.
	select {
	case tr := <-m.out:
		return tr, nil
	default:
	}
	select {
	case tr := <-m.out:
		return tr, nil
	case <-m.done:
		// Every source forwarded its transcripts before done closed.
		select {
		case tr := <-m.out:
			return tr, nil
		default:
		}
		return Transcript{}, ErrDone
	case <-m.closed:
		return Transcript{}, ErrDone
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
}

func (m *Merged) Close() error {
	m.once.Do(func() {
		close(m.closed)
		for _, src := range m.sources {
			_ = src.Close()
		}
	})
	return nil
}

// ScriptedSource replays a fixed list of utterances. Test helper.
type ScriptedSource struct {
	queue chan Transcript
}

func NewScriptedSource(texts ...string) *ScriptedSource {
	s := &ScriptedSource{queue: make(chan Transcript, len(texts)+1)}
	for _, t := range texts {
		s.queue <- Transcript{Text: t, Final: true, HeardAt: time.Now()}
	}
	return s
}

// Push appends one more utterance mid-session.
func (s *ScriptedSource) Push(text string) {
	s.queue <- Transcript{Text: text, Final: true, HeardAt: time.Now()}
}

func (s *ScriptedSource) Next(ctx context.Context) (Transcript, error) {
	select {
	case t, ok := <-s.queue:
		if !ok {
			return Transcript{}, ErrDone
		}
		return t, nil
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
}

// End closes the script; Next returns ErrDone once drained.
func (s *ScriptedSource) End() {
	close(s.queue)
}

func (s *ScriptedSource) Close() error { return nil }
