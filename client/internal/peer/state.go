package peer

import (
	"slices"

	"github.com/mitchellh/hashstructure/v2"
	log "github.com/sirupsen/logrus"
)

// State is a single peer state announcement decoded from an `event node:`
// line of the agent output.
type State struct {
	Identifier               string     `json:"identifier"`
	PublicKey                string     `json:"public_key"`
	ConnStatus               ConnStatus `json:"state"`
	IsExit                   bool       `json:"is_exit"`
	IsVPN                    bool       `json:"is_vpn"`
	IPAddresses              []string   `json:"ip_addresses"`
	AllowedIPs               []string   `json:"allowed_ips"`
	Endpoint                 *string    `json:"endpoint"`
	Hostname                 *string    `json:"hostname"`
	AllowIncomingConnections bool       `json:"allow_incoming_connections"`
	AllowPeerSendFiles       bool       `json:"allow_peer_send_files"`
	Path                     PathType   `json:"path"`
}

// Equal reports whether two states describe the same peer observation.
// The optional Endpoint and Hostname fields compare leniently: if either
// side leaves one unset it counts as a match, so a partial expectation can
// be compared against a full record.
func (s State) Equal(other State) bool {
	return s.Identifier == other.Identifier &&
		s.PublicKey == other.PublicKey &&
		s.ConnStatus == other.ConnStatus &&
		s.IsExit == other.IsExit &&
		s.IsVPN == other.IsVPN &&
		slices.Equal(s.IPAddresses, other.IPAddresses) &&
		slices.Equal(s.AllowedIPs, other.AllowedIPs) &&
		optionalEqual(s.Endpoint, other.Endpoint) &&
		optionalEqual(s.Hostname, other.Hostname) &&
		s.AllowIncomingConnections == other.AllowIncomingConnections &&
		s.AllowPeerSendFiles == other.AllowPeerSendFiles &&
		s.Path == other.Path
}

// Hash returns the identity hash of the state. Unlike Equal it covers every
// field, including the optional ones and the connection status.
func (s State) Hash() uint64 {
	hash, err := hashstructure.Hash(s, hashstructure.FormatV2, nil)
	if err != nil {
		log.Errorf("failed to hash peer state: %v", err)
		return 0
	}
	return hash
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return true
	}
	return *a == *b
}
