package signalr

// ConnectionState is the lifecycle of the single hub session.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateNegotiating
	StateConnected
	StateReconnecting
	// StateFailed is terminal until the reconnect budget is reset externally.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateObserver is notified after every state transition.
type StateObserver func(from, to ConnectionState)
