package codex

import (
	"fmt"
	"sync"
)

// ConnState tracks the transport connection lifecycle.
type ConnState int

const (
	// StateDisconnected means no subprocess is running.
	StateDisconnected ConnState = iota

	// StateConnecting means the subprocess is being spawned and initialized.
	StateConnecting

	// StateConnected means the transport is live and accepting requests.
	StateConnected

	// StateDisconnecting means teardown is in progress.
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// connStateManager guards transitions between connection states.
type connStateManager struct {
	mu    sync.Mutex
	state ConnState
}

func newConnStateManager() *connStateManager {
	return &connStateManager{state: StateDisconnected}
}

func (m *connStateManager) current() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves from one state to another, failing if the current state
// is not the expected one.
func (m *connStateManager) transition(from, to ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s (currently %s)",
			ErrInvalidState, from, to, m.state)
	}
	m.state = to
	return nil
}

// set forces the state unconditionally. Used by teardown paths that must
// converge on disconnected regardless of where they started.
func (m *connStateManager) set(s ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// ThreadPhase tracks the conversation lifecycle above the transport.
type ThreadPhase int

const (
	// PhaseNoThread means no conversation exists yet.
	PhaseNoThread ThreadPhase = iota

	// PhaseThreadStarting means thread/start or thread/resume is in flight.
	PhaseThreadStarting

	// PhaseThreadActive means a thread exists and no turn is running.
	PhaseThreadActive

	// PhaseTurnActive means a turn is in progress on the thread.
	PhaseTurnActive
)

func (p ThreadPhase) String() string {
	switch p {
	case PhaseNoThread:
		return "no_thread"
	case PhaseThreadStarting:
		return "thread_starting"
	case PhaseThreadActive:
		return "thread_active"
	case PhaseTurnActive:
		return "turn_active"
	default:
		return fmt.Sprintf("ThreadPhase(%d)", int(p))
	}
}

type phaseManager struct {
	mu    sync.Mutex
	phase ThreadPhase
}

func newPhaseManager() *phaseManager {
	return &phaseManager{phase: PhaseNoThread}
}

func (m *phaseManager) current() ThreadPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *phaseManager) transition(from, to ThreadPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != from {
		return fmt.Errorf("%w: cannot move from %s to %s (currently %s)",
			ErrInvalidState, from, to, m.phase)
	}
	m.phase = to
	return nil
}

func (m *phaseManager) set(p ThreadPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}
