package server

// State is the lifecycle phase of the bridge.
type State int

// Lifecycle phases, in the order they are entered. AwaitingDiscovery is
// skipped when no platform discovers accessories asynchronously.
const (
	StateLoading State = iota
	StateAwaitingDiscovery
	StatePublished
	StateUnpublishing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAwaitingDiscovery:
		return "awaiting_discovery"
	case StatePublished:
		return "published"
	case StateUnpublishing:
		return "unpublishing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
