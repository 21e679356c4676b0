// Package state tracks the conversation phase and the interrupt generation.
// Every state's interrupt path converges on IDLE; anything produced under an
// older generation is stale and must be discarded on arrival.
package state

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/herald/internal/log"
)

// Phase is the conversation state.
type Phase string

const (
	Idle         Phase = "IDLE"
	Listening    Phase = "LISTENING"
	Transcribing Phase = "TRANSCRIBING"
	Thinking     Phase = "THINKING"
	Speaking     Phase = "SPEAKING"
	Followup     Phase = "FOLLOWUP"
)

// transitions is the legal edge set. Interrupt() bypasses it; everything
// else must follow an edge.
var transitions = map[Phase][]Phase{
	Idle:         {Listening},
	Listening:    {Transcribing, Idle},
	Transcribing: {Thinking, Idle},
	Thinking:     {Speaking, Idle},
	Speaking:     {Idle, Followup},
	Followup:     {Transcribing, Thinking, Idle},
}

// Machine is the conversation state machine. Safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	phase Phase

	gen atomic.Uint64

	onEnter func(from, to Phase, gen uint64)
}

// NewMachine starts in IDLE at generation 0.
func NewMachine() *Machine {
	return &Machine{phase: Idle}
}

// OnEnter registers a hook called after every committed transition,
// including interrupts. Must be set before concurrent use.
func (m *Machine) OnEnter(fn func(from, to Phase, gen uint64)) {
	m.onEnter = fn
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Gen returns the current interrupt generation.
func (m *Machine) Gen() uint64 {
	return m.gen.Load()
}

// Stale reports whether gen predates the current generation.
func (m *Machine) Stale(gen uint64) bool {
	return gen < m.gen.Load()
}

// TransitionTo moves along a legal edge.
func (m *Machine) TransitionTo(to Phase) error {
	m.mu.Lock()
	from := m.phase
	if !legal(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.phase = to
	gen := m.gen.Load()
	m.mu.Unlock()

	log.WithComponent("state").Debug("transition", "from", from, "to", to, "gen", gen)
	if m.onEnter != nil {
		m.onEnter(from, to, gen)
	}
	return nil
}

// Interrupt bumps the generation and forces the machine to IDLE from any
// phase. Returns the new generation. Results carrying an older generation
// are stale from this moment.
func (m *Machine) Interrupt() uint64 {
	m.mu.Lock()
	from := m.phase
	m.phase = Idle
	gen := m.gen.Add(1)
	m.mu.Unlock()

	log.WithComponent("state").Info("interrupt", "from", from, "gen", gen)
	if m.onEnter != nil {
		m.onEnter(from, Idle, gen)
	}
	return gen
}

func legal(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
