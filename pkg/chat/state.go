package chat

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateExecutingTool
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTool:
		return "executing_tool"
	default:
		return "unknown"
	}
}

// StateChange represents a loop state transition.
type StateChange struct {
	SessionID string
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes loop state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:          {StateAwaitingModel},
	StateAwaitingModel: {StateExecutingTool, StateIdle},
	StateExecutingTool: {StateAwaitingModel},
}

type stateMachine struct {
	mu        sync.Mutex
	sessionID string
	current   State
	listeners []StateListener
}

func newStateMachine(sessionID string, listeners []StateListener) *stateMachine {
	return &stateMachine{sessionID: sessionID, current: StateIdle, listeners: listeners}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to state. Listeners run after the lock is released.
func (m *stateMachine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, state) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	event := StateChange{
		SessionID: m.sessionID,
		FromState: m.current,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = state
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
