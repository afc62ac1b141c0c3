package dispatch

// StreamState is the lifecycle state of a topic subscription.
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamReplaying
	StreamLive
	StreamReconnecting
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamReplaying:
		return "replaying"
	case StreamLive:
		return "live"
	case StreamReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s StreamState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
