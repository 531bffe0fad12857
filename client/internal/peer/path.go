package peer

import (
	"encoding/json"
	"fmt"
)

const (
	// PathRelay indicate traffic to the peer flows through a relay server
	PathRelay PathType = iota
	// PathDirect indicate traffic to the peer flows over a direct route
	PathDirect
)

// PathType describe which kind of route traffic to a peer takes
type PathType int32

var pathTypeNames = map[PathType]string{
	PathRelay:  "relay",
	PathDirect: "direct",
}

var pathTypeValues = map[string]PathType{
	"relay":  PathRelay,
	"direct": PathDirect,
}

func (p PathType) String() string {
	switch p {
	case PathRelay:
		return "Relay"
	case PathDirect:
		return "Direct"
	default:
		return "INVALID_PATH_TYPE"
	}
}

// MarshalJSON implements json.Marshaler using the agent's wire strings
func (p PathType) MarshalJSON() ([]byte, error) {
	name, ok := pathTypeNames[p]
	if !ok {
		return nil, fmt.Errorf("invalid path type: %d", int32(p))
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler using the agent's wire strings
func (p *PathType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal path type: %w", err)
	}
	path, ok := pathTypeValues[name]
	if !ok {
		return fmt.Errorf("unknown path type %q", name)
	}
	*p = path
	return nil
}
