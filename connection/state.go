package connection

// State is the connection lifecycle state
type State int32

const (
	// StateDisconnected is the initial state, and the state after Connect
	// gives up.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the socket is open and frames may be sent.
	StateConnected
	// StateAuthenticated means the gateway accepted POST_LOGIN on this socket.
	StateAuthenticated
	// StateReconnecting means the socket dropped unexpectedly and the
	// backoff loop is redialing.
	StateReconnecting
	// StateClosing means Close has started; no new frames are accepted.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanSend reports whether frames may be written in this state.
func (s State) CanSend() bool {
	return s == StateConnected || s == StateAuthenticated
}

// Event is a lifecycle notification. The concrete type is one of Opened,
// Closed, TransportError or StateChanged.
type Event interface {
	isEvent()
}

// Opened is emitted once a socket is established.
type Opened struct {
	URL       string
	Reconnect bool
}

// Closed is emitted when a socket goes away, expectedly or not.
type Closed struct {
	Code   int
	Reason string
}

// TransportError is emitted for dial, read, write and heartbeat failures.
type TransportError struct {
	Err error
}

// StateChanged is emitted on every transition.
type StateChanged struct {
	From State
	To   State
}

func (Opened) isEvent()         {}
func (Closed) isEvent()         {}
func (TransportError) isEvent() {}
func (StateChanged) isEvent()   {}
