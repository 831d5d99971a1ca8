package taskflow

import (
	"fmt"
	"time"
)

// State is the runtime state of a task or flow within one run.
type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	// StateSkipped marks nodes that never ran because an earlier sibling failed.
	StateSkipped State = "SKIPPED"
)

// IsTerminal reports whether the state is final for the run.
func IsTerminal(s State) bool {
	switch s {
	case StateSuccess, StateFailure, StateSkipped:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateSkipped
	case StateRunning:
		return to == StateSuccess || to == StateFailure
	default:
		return false
	}
}

// Transition is emitted to listeners whenever a node changes state.
type Transition struct {
	RunID string
	Flow  string
	Node  string
	Kind  string
	From  State
	To    State
	Err   error
	At    time.Time
}

type runState map[string]State

func (s runState) move(name string, from, to State) error {
	cur, ok := s[name]
	if !ok {
		return fmt.Errorf("taskflow: unknown node %q", name)
	}
	if cur != from {
		return fmt.Errorf("taskflow: invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("taskflow: disallowed transition for %q: %s -> %s", name, from, to)
	}
	s[name] = to
	return nil
}
