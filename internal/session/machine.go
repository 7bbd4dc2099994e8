package session

import (
	"time"

	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
)

// State is the lifecycle state of a session.
type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateScanQR        State = "SCAN_QR"
	StateAuthenticated State = "AUTHENTICATED"
	StateReady         State = "READY"
	StateAuthFailure   State = "AUTH_FAILURE"
	StateDisconnected  State = "DISCONNECTED"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether the state ends a session record. A terminal
// record is replaced, never revived, by the next start.
func (s State) IsTerminal() bool {
	return s == StateAuthFailure || s == StateDisconnected
}

// rank orders the handshake states. Terminal states share the top rank.
func (s State) rank() int {
	switch s {
	case StateInitializing:
		return 0
	case StateScanQR:
		return 1
	case StateAuthenticated:
		return 2
	case StateReady:
		return 3
	default:
		return 4
	}
}

// Snapshot is an immutable view of a session, swapped atomically on every
// accepted transition.
type Snapshot struct {
	UserID    id.UserID `json:"user_id"`
	State     State     `json:"state"`
	Challenge string    `json:"qr,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Disconnected is the snapshot reported for an identity without a record.
func Disconnected(userID id.UserID) Snapshot {
	return Snapshot{UserID: userID, State: StateDisconnected}
}

// Transition is the result of folding one lifecycle event.
type Transition struct {
	From      State
	To        State
	Challenge string
	Reason    string
}

// Changed reports whether the fold moved the machine to a different state.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine folds protocol lifecycle events into a lifecycle state. It holds no
// locks and performs no I/O; callers serialize access.
type Machine struct {
	state     State
	challenge string
}

func NewMachine() Machine {
	return Machine{state: StateInitializing}
}

func (m *Machine) State() State { return m.state }

// Challenge returns the pending challenge payload. It is empty outside SCAN_QR.
func (m *Machine) Challenge() string { return m.challenge }

// Apply folds ev. It returns false when the event is not a lifecycle event, the
// machine is terminal, or the event would move the handshake backwards. An
// accepted event into the current state is still reported so the caller can
// re-emit it.
func (m *Machine) Apply(ev protocol.Event) (Transition, bool) {
	if !ev.IsLifecycle() || m.state.IsTerminal() {
		return Transition{}, false
	}

	var next State
	switch ev.Kind {
	case protocol.KindChallenge:
		next = StateScanQR
	case protocol.KindAuthenticated:
		next = StateAuthenticated
	case protocol.KindReady:
		next = StateReady
	case protocol.KindAuthFailure:
		next = StateAuthFailure
	case protocol.KindDisconnected:
		next = StateDisconnected
	default:
		return Transition{}, false
	}
	if next.rank() < m.state.rank() {
		return Transition{}, false
	}

	t := Transition{From: m.state, To: next, Reason: ev.Reason}
	m.state = next
	switch next {
	case StateScanQR:
		m.challenge = ev.Challenge
		t.Challenge = ev.Challenge
	default:
		m.challenge = ""
	}
	return t, true
}

// Fail forces the machine into a terminal state outside the event stream, for
// failures the client never reports itself (initialization error, timeout,
// logout). It is a no-op on a terminal machine.
func (m *Machine) Fail(state State, reason string) (Transition, bool) {
	kind := protocol.KindDisconnected
	if state == StateAuthFailure {
		kind = protocol.KindAuthFailure
	}
	return m.Apply(protocol.Event{Kind: kind, Reason: reason})
}
