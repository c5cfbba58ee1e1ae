package capture

// State is the capture session lifecycle state. Exactly one state is active
// at any time. Reading it via Session.State is safe from any goroutine.
type State int32

const (
	// StateReady means the session is idle and configurable.
	StateReady State = iota
	// StateCapturing means the producer loop is running.
	StateCapturing
	// StatePaused means the endpoint is stopped but still acquired; Resume
	// or Stop are the only legal transitions.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
