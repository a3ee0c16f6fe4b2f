package ble

// State is a Session's position in its connection lifetime.
type State int

const (
	StateIdle State = iota
	StateLocating
	StateConnected
	StateSubscribed
	StateDisconnected // terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocating:
		return "locating"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
