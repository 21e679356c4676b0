package ipc

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
)

// maxFrameLine bounds one JSON-lines frame.
const maxFrameLine = 1 << 20

// StreamLink speaks JSON lines over a reader/writer pair. The brain process
// uses it directly on its own stdin/stdout; PipeLink wraps it around a
// subprocess's pipes.
type StreamLink struct {
	wmu sync.Mutex
	w   io.Writer

	frames chan *protocol.Frame
	readWg sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
	closer    io.Closer // optional, closed with the link
}

// NewStreamLink starts reading frames from r. Malformed lines are logged and
// skipped; the peer owning the stream is not torn down for one bad line.
func NewStreamLink(r io.Reader, w io.Writer) *StreamLink {
	l := &StreamLink{
		w:      w,
		frames: make(chan *protocol.Frame, 16),
		closed: make(chan struct{}),
	}
	l.readWg.Add(1)
	go l.readLoop(r)
	return l
}

func (l *StreamLink) readLoop(r io.Reader) {
	defer l.readWg.Done()
	defer close(l.frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := protocol.DecodeFrame(line)
		if err != nil {
			log.WithComponent("ipc").Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case l.frames <- f:
		case <-l.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.WithComponent("ipc").Warn("frame stream read failed", "error", err)
	}
}

func (l *StreamLink) Send(ctx context.Context, f *protocol.Frame) error {
	select {
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return protocol.EncodeFrame(l.w, f)
}

func (l *StreamLink) Recv(ctx context.Context) (*protocol.Frame, error) {
	select {
	case f, ok := <-l.frames:
		if !ok {
			return nil, ErrClosed
		}
		return f, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the link. The underlying closer, if any, is closed so the read
// loop unblocks.
func (l *StreamLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}
