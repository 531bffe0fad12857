package peer

import (
	"github.com/mitchellh/hashstructure/v2"
	log "github.com/sirupsen/logrus"
)

// DerpServer is a relay server state announcement decoded from an
// `event relay:` line of the agent output. Immutable once decoded.
type DerpServer struct {
	RegionCode        string     `json:"region_code"`
	Name              string     `json:"name"`
	Hostname          string     `json:"hostname"`
	IPv4              string     `json:"ipv4"`
	RelayPort         int        `json:"relay_port"`
	StunPort          int        `json:"stun_port"`
	StunPlaintextPort int        `json:"stun_plaintext_port"`
	PublicKey         string     `json:"public_key"`
	Weight            int        `json:"weight"`
	UsePlainText      bool       `json:"use_plain_text"`
	ConnState         ConnStatus `json:"conn_state"`
	// Used is accepted for compatibility with agents up to v3.6 and is not
	// part of the server identity.
	Used bool `json:"used" hash:"ignore"`
}

// Hash returns the identity hash of the server, excluding the Used
// compatibility field.
func (d DerpServer) Hash() uint64 {
	hash, err := hashstructure.Hash(d, hashstructure.FormatV2, nil)
	if err != nil {
		log.Errorf("failed to hash derp server state: %v", err)
		return 0
	}
	return hash
}
