package worker

import "errors"

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("worker already started")

// State represents the lifecycle state of a worker.
type State int

const (
	// StateStarting indicates the worker is building its agent.
	StateStarting State = iota

	// StateRunning indicates the agent's Run call is in progress.
	StateRunning

	// StatePaused indicates the agent is parked waiting for a human.
	// It is never stored; State derives it from Running and the gate.
	StatePaused

	// StateFinished indicates the run completed.
	StateFinished

	// StateFailed indicates the run ended with an error.
	StateFailed

	// StateCancelled indicates the run was stopped.
	StateCancelled
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCancelled
}

// ParseState converts a state name back to a State.
func ParseState(name string) (State, bool) {
	for s := StateStarting; s <= StateCancelled; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}
