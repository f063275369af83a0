package feed

// State is the connection state of a Client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	// Closed is terminal and only reached through Disconnect.
	Closed
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "closed"}

func (s State) String() string {
	if s < Disconnected || s > Closed {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the client for the HTTP surface.
type Status struct {
	State            State  `json:"state"`
	ReconnectAttempt int    `json:"reconnectAttempt"`
	Exhausted        bool   `json:"exhausted"`
	LastError        string `json:"lastError,omitempty"`
}
