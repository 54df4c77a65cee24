package signing

import "fmt"

// State is a step of a signing transaction
type State string

const (
	StateValidating     State = "Validating"
	StateSourceResolved State = "SourceResolved"
	StateOtpVerified    State = "OtpVerified"
	StateSigned         State = "Signed"
	StatePersisted      State = "Persisted"
	StateNotifySent     State = "NotifySent"
	StateComplete       State = "Complete"

	StateRejectedInput     State = "RejectedInput"
	StateOtpRejected       State = "OtpRejected"
	StatePersistenceFailed State = "PersistenceFailed"
)

var transitions = map[State][]State{
	StateValidating:     {StateSourceResolved, StateRejectedInput},
	StateSourceResolved: {StateOtpVerified, StateOtpRejected},
	StateOtpVerified:    {StateSigned},
	// a concurrent writer can win the documentId under the reject policy
	StateSigned:     {StatePersisted, StatePersistenceFailed, StateRejectedInput},
	StatePersisted:  {StateNotifySent, StateComplete},
	StateNotifySent: {StateComplete},
}

// IsTerminal reports whether no transition leaves s
func (s State) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsFailure reports whether s is a terminal failure
func (s State) IsFailure() bool {
	switch s {
	case StateRejectedInput, StateOtpRejected, StatePersistenceFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the transition table
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition tracks the current state of one transaction
type transition struct {
	state   State
	history []State
}

func newTransition() *transition {
	return &transition{state: StateValidating, history: []State{StateValidating}}
}

func (t *transition) advance(next State) error {
	if !CanTransition(t.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", t.state, next)
	}
	t.state = next
	t.history = append(t.history, next)
	return nil
}
