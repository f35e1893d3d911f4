package handshake

import "fmt"

// State is the position of one peer's handshake.
//
//	Start -> VersionSent -> Completed
//	               \------> Failed
//
// Receiving the peer's version does not move the state; it only triggers
// a verack reply. The handshake completes on the peer's verack alone.
type State int

const (
	StateStart State = iota
	StateVersionSent
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateVersionSent:
		return "VersionSent"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func validTransition(from, to State) bool {
	switch from {
	case StateStart:
		return to == StateVersionSent || to == StateFailed
	case StateVersionSent:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}
