// Package timer runs one-shot timers set by voice. A fired timer surfaces as
// an announcement the orchestrator speaks under the generation the timer was
// set in; an interrupt after that generation silences it.
package timer

import (
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/log"
)

// Fired is one elapsed timer.
type Fired struct {
	ID      string
	Label   string
	Seconds float64
	Gen     uint64
	SetAt   time.Time
}

// Service owns the active timers.
type Service struct {
	mu     sync.Mutex
	active map[string]*time.Timer
	fired  chan Fired
	closed bool
}

// NewService builds a timer service. The fired channel is buffered; an
// unread announcement never blocks a timer goroutine.
func NewService() *Service {
	return &Service{
		active: make(map[string]*time.Timer),
		fired:  make(chan Fired, 16),
	}
}

// Set arms a one-shot timer. A duplicate id replaces the earlier timer.
func (s *Service) Set(id string, d time.Duration, label string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.active[id]; ok {
		old.Stop()
	}

	setAt := time.Now()
	s.active[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.active, id)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		select {
		case s.fired <- Fired{ID: id, Label: label, Seconds: d.Seconds(), Gen: gen, SetAt: setAt}:
		default:
			log.WithComponent("timer").Warn("fired channel full; announcement dropped", "id", id)
		}
	})
	log.WithComponent("timer").Info("timer set", "id", id, "duration", d, "label", label, "gen", gen)
}

// Cancel stops one timer. Reports whether it was active.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[id]
	if ok {
		t.Stop()
		delete(s.active, id)
	}
	return ok
}

// Active returns the number of armed timers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Fired yields elapsed timers.
func (s *Service) Fired() <-chan Fired {
	return s.fired
}

// Stop cancels everything and stops announcing.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.active {
		t.Stop()
		delete(s.active, id)
	}
}
