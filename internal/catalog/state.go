package catalog

import (
	"fmt"
	"strings"
)

// RunState is a state of the run lifecycle: NEW → RUNNING → {COMPLETED | ABORTED | FAILED}.
type RunState string

const (
	RunStateNew       RunState = "NEW"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateAborted   RunState = "ABORTED"
	RunStateFailed    RunState = "FAILED"
)

// RunStates lists every state in lifecycle order.
func RunStates() []RunState {
	return []RunState{RunStateNew, RunStateRunning, RunStateCompleted, RunStateAborted, RunStateFailed}
}

// IsValid reports whether s is a lifecycle state.
func (s RunState) IsValid() bool {
	switch s {
	case RunStateNew, RunStateRunning, RunStateCompleted, RunStateAborted, RunStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateAborted || s == RunStateFailed
}

// ParseRunState parses a case-insensitive state name.
func ParseRunState(value string) (RunState, error) {
	state := RunState(strings.ToUpper(strings.TrimSpace(value)))
	if !state.IsValid() {
		return "", fmt.Errorf("%w: unknown run state %q", ErrValidation, value)
	}

	return state, nil
}

// TransitionEffect says which denormalized run pointers a newly appended state row moves.
type TransitionEffect struct {
	UpdateCurrent bool
	SetStart      bool
	SetEnd        bool
}

// PlanTransition decides the pointer updates for appending target to a run whose current
// state is current. The state row itself is always appended.
//
//   - NEW never moves a pointer.
//   - RUNNING sets the start pointer only if unset, and becomes current unless the run is terminal.
//   - A terminal state sets the end pointer only if unset. The first terminal state wins:
//     once a run is terminal, the current state and end pointer stay put. A late RUNNING
//     still fills a missing start pointer.
func PlanTransition(current RunState, hasStart, hasEnd bool, target RunState) TransitionEffect {
	if current.IsTerminal() {
		return TransitionEffect{SetStart: target == RunStateRunning && !hasStart}
	}

	switch {
	case target == RunStateRunning:
		return TransitionEffect{UpdateCurrent: true, SetStart: !hasStart}
	case target.IsTerminal():
		return TransitionEffect{UpdateCurrent: true, SetEnd: !hasEnd}
	default:
		return TransitionEffect{}
	}
}
