package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
)

// State is the connection state of a session.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Connected      State = "CONNECTED"
	Reconnecting   State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:   {Connecting},
	Connecting:     {Authenticating, Reconnecting, Disconnected},
	Authenticating: {Connected, Reconnecting, Disconnected},
	Connected:      {Reconnecting, Disconnected},
	Reconnecting:   {Connecting, Disconnected},
}

// Snapshot is the full connection state. Attempt and NextRetryAt are only
// meaningful while Reconnecting.
type Snapshot struct {
	State       State
	Attempt     int
	NextRetryAt time.Time
	Since       time.Time
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current Snapshot
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Snapshot{State: Disconnected, Since: time.Now()},
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State
}

// Snapshot returns the current state with its reconnect details.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.transition(Snapshot{State: to})
}

// Reconnect moves to Reconnecting, recording the attempt number and when
// the next attempt is scheduled.
func (m *Machine) Reconnect(attempt int, nextRetryAt time.Time) error {
	return m.transition(Snapshot{State: Reconnecting, Attempt: attempt, NextRetryAt: nextRetryAt})
}

func (m *Machine) transition(next Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current.State
	if !slices.Contains(validTransitions[from], next.State) {
		return fmt.Errorf("invalid transition from %s to %s", from, next.State)
	}
	next.Since = time.Now()
	m.current = next
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindConnectionState, StatusChange{
			From:        from,
			To:          next.State,
			Attempt:     next.Attempt,
			NextRetryAt: next.NextRetryAt,
		}))
	}
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From        State
	To          State
	Attempt     int
	NextRetryAt time.Time
}
