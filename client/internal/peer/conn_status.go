package peer

import (
	"encoding/json"
	"fmt"
)

const (
	// StatusDisconnected indicate the peer is in disconnected state
	StatusDisconnected ConnStatus = iota
	// StatusConnecting indicate the peer is in connecting state
	StatusConnecting
	// StatusConnected indicate the peer is in connected state
	StatusConnected
)

// ConnStatus describe the status of a peer's connection
type ConnStatus int32

// connStatusNames is the closed codec table between ConnStatus values and the
// strings the agent prints on its event lines.
var connStatusNames = map[ConnStatus]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
}

var connStatusValues = map[string]ConnStatus{
	"disconnected": StatusDisconnected,
	"connecting":   StatusConnecting,
	"connected":    StatusConnected,
}

func (s ConnStatus) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "INVALID_PEER_CONNECTION_STATUS"
	}
}

// MarshalJSON implements json.Marshaler using the agent's wire strings
func (s ConnStatus) MarshalJSON() ([]byte, error) {
	name, ok := connStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid connection status: %d", int32(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler using the agent's wire strings
func (s *ConnStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal connection status: %w", err)
	}
	status, ok := connStatusValues[name]
	if !ok {
		return fmt.Errorf("unknown connection status %q", name)
	}
	*s = status
	return nil
}
