// Package ipc carries protocol frames between the front end and the brain.
// Two transports exist: an in-process channel pair for the single-binary
// deployment, and JSON lines over a subprocess's stdin/stdout for process
// isolation. Both present the same Link interface.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/herald/internal/protocol"
)

// ErrClosed is returned once either side has closed the link.
var ErrClosed = errors.New("ipc: link closed")

// Link is one end of a duplex frame channel.
type Link interface {
	Send(ctx context.Context, f *protocol.Frame) error
	Recv(ctx context.Context) (*protocol.Frame, error)
	Close() error
}

// ChanLink is the in-process transport: two ends sharing a bounded channel
// pair. A full outbound buffer blocks Send rather than dropping frames.
type ChanLink struct {
	out  chan *protocol.Frame
	in   chan *protocol.Frame
	peer *ChanLink

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChanPair returns both ends of an in-process link. buffer bounds each
// direction independently.
func NewChanPair(buffer int) (*ChanLink, *ChanLink) {
	if buffer <= 0 {
		buffer = 16
	}
	ab := make(chan *protocol.Frame, buffer)
	ba := make(chan *protocol.Frame, buffer)
	a := &ChanLink{out: ab, in: ba, closed: make(chan struct{})}
	b := &ChanLink{out: ba, in: ab, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *ChanLink) Send(ctx context.Context, f *protocol.Frame) error {
	if !f.Type.Valid() {
		return fmt.Errorf("ipc: invalid frame type %q", f.Type)
	}
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.peer.closed:
		return ErrClosed
	default:
	}
	select {
	case l.out <- f:
		return nil
	case <-l.closed:
		return ErrClosed
	case <-l.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ChanLink) Recv(ctx context.Context) (*protocol.Frame, error) {
	// Buffered frames are delivered even after the peer closed.
	select {
	case f := <-l.in:
		return f, nil
	default:
	}
	select {
	case f := <-l.in:
		return f, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-l.peer.closed:
		select {
		case f := <-l.in:
			return f, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts this end down; the peer's Recv drains buffered frames and then
// reports ErrClosed.
func (l *ChanLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
