package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEvent(t *testing.T) {
	tables := []struct {
		name string
		line string
		want FiveTuple
	}{
		{
			name: "udp with ports",
			line: "[NEW] udp      17 30 src=10.0.254.1 dst=10.0.254.7 sport=51820 dport=51820 [UNREPLIED]",
			want: FiveTuple{Protocol: "udp", SrcIP: "10.0.254.1", DstIP: "10.0.254.7", SrcPort: 51820, DstPort: 51820},
		},
		{
			name: "icmp without ports",
			line: "[NEW] icmp     1 30 src=10.0.0.1 dst=127.0.0.1 type=8 code=0 id=1234",
			want: FiveTuple{Protocol: "icmp", SrcIP: "10.0.0.1", DstIP: "127.0.0.1"},
		},
		{
			name: "tokens in any order",
			line: "dport=443 src=192.0.2.1 [NEW] tcp dst=198.51.100.7 sport=39412",
			want: FiveTuple{Protocol: "tcp", SrcIP: "192.0.2.1", DstIP: "198.51.100.7", SrcPort: 39412, DstPort: 443},
		},
		{
			name: "no tokens",
			line: "conntrack v1.4.6 (conntrack-tools): 1 flow events have been shown.",
			want: FiveTuple{},
		},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			assert.Equal(t, table.want, ParseEvent(table.line))
		})
	}
}

func TestFiveTuple_PartialMatch(t *testing.T) {
	full := FiveTuple{Protocol: "udp", SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1000, DstPort: 2000}

	assert.True(t, full.PartialMatch(full), "partial equality is reflexive for full tuples")
	assert.True(t, FiveTuple{}.PartialMatch(full), "the all-unset pattern matches everything")
	assert.True(t, FiveTuple{Protocol: "udp"}.PartialMatch(full))
	assert.True(t, FiveTuple{DstIP: "10.0.0.2", DstPort: 2000}.PartialMatch(full))

	assert.False(t, FiveTuple{Protocol: "tcp"}.PartialMatch(full))
	assert.False(t, full.PartialMatch(FiveTuple{Protocol: "udp"}), "unset fields on the flow side do not match set pattern fields")
}

func TestFiveTuple_IsZero(t *testing.T) {
	assert.True(t, FiveTuple{}.IsZero())
	assert.False(t, FiveTuple{Protocol: "icmp"}.IsZero())
}
