package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/store"
)

// State represents the sync engine runtime state.
type State string

const (
	Booting State = "BOOTING"
	Offline State = "OFFLINE"
	Idle    State = "IDLE"
	Syncing State = "SYNCING"
	Paused  State = "PAUSED"
	Stopped State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting: {Offline, Idle, Stopped},
	Offline: {Idle, Stopped},
	Idle:    {Syncing, Offline, Stopped},
	Syncing: {Idle, Offline, Paused, Stopped},
	Paused:  {Idle, Syncing, Offline, Stopped},
	Stopped: {Booting},
}

// Machine tracks and enforces engine runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionIf moves to `to` only when the current state is one of from.
// It reports whether the transition happened.
func (m *Machine) TransitionIf(to State, from ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(from, m.current) {
		return false
	}
	return m.transitionLocked(to) == nil
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.bus.Emit(bus.KindEngineState, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

var queueTransitions = map[store.QueueStatus][]store.QueueStatus{
	store.QueuePending:    {store.QueueProcessing},
	store.QueueProcessing: {store.QueueCompleted, store.QueuePending, store.QueueFailed},
}

// CheckQueueTransition validates a queue item status change. Completed and
// failed are terminal.
func CheckQueueTransition(from, to store.QueueStatus) error {
	if !slices.Contains(queueTransitions[from], to) {
		return fmt.Errorf("invalid queue item transition from %s to %s", from, to)
	}
	return nil
}
