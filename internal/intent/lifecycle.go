package intent

import "fmt"

// ErrInvalidTransition is returned when a requested state transition is
// not in the outgoing set of the current state.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ErrImmutable is returned when a write targets a frozen field on an
// intent that has already reached an approved-or-later state.
var ErrImmutable = fmt.Errorf("intent: field is immutable after approval")

var transitions = map[State][]State{
	StateProposed:         {StateClassified},
	StateClassified:       {StateAwaitingApproval, StateApproved},
	StateAwaitingApproval: {StateApproved, StateRejected, StateCanceled},
	StateApproved:         {StateRunning, StateCanceled},
	StateRunning:          {StateCompleted, StateFailed, StateBlocked, StateWaitingForInput},
	StateBlocked:          {StateRunning, StateCanceled},
	StateWaitingForInput:  {StateRunning, StateCanceled},
}

// ValidTransitions returns the outgoing set reachable from a state.
func ValidTransitions(from State) []State {
	out := transitions[from]
	result := make([]State, len(out))
	copy(result, out)
	return result
}

// CheckTransition validates that to is reachable from from, returning
// *ErrInvalidTransition when it is not.
func CheckTransition(from, to State) error {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to}
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateRejected, StateCanceled:
		return true
	default:
		return false
	}
}
