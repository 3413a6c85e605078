package session

// State is the lifecycle position of an Engine.
type State int

const (
	// StateClosed is the initial and the terminal state.
	StateClosed State = iota
	// StateConnecting: the control socket is being dialed.
	StateConnecting
	// StateHelloPending: HELLO VERSION sent.
	StateHelloPending
	// StateDestinationPending: DEST GENERATE sent.
	StateDestinationPending
	// StateReady: handshake done, a keypair is held.
	StateReady
	// StateSessionPending: SESSION CREATE sent.
	StateSessionPending
	// StateActive: the session exists on the bridge.
	StateActive
	// StateError: a construction step failed. The control socket stays open
	// until Close.
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateHelloPending:
		return "HELLO_PENDING"
	case StateDestinationPending:
		return "DESTINATION_PENDING"
	case StateReady:
		return "READY"
	case StateSessionPending:
		return "SESSION_PENDING"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
