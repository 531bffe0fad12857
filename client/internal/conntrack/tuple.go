// Package conntrack rebuilds five-tuple network flows from the free-text
// output of a packet-filter connection log and evaluates them against
// configured per-flow occurrence limits.
package conntrack

import (
	"regexp"
	"strconv"
)

// FiveTuple identifies a network flow. Every field is optional: the zero
// value of a field means unset. Unset fields on a pattern side always match,
// which makes a partially specified tuple usable as a match pattern.
type FiveTuple struct {
	Protocol string `json:"protocol,omitempty"`
	SrcIP    string `json:"src_ip,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	SrcPort  int    `json:"src_port,omitempty"`
	DstPort  int    `json:"dst_port,omitempty"`
}

// PartialMatch reports whether the tuple, interpreted as a pattern, matches
// the given flow. Only fields set on the pattern side are compared.
func (t FiveTuple) PartialMatch(flow FiveTuple) bool {
	return (t.Protocol == "" || t.Protocol == flow.Protocol) &&
		(t.SrcIP == "" || t.SrcIP == flow.SrcIP) &&
		(t.DstIP == "" || t.DstIP == flow.DstIP) &&
		(t.SrcPort == 0 || t.SrcPort == flow.SrcPort) &&
		(t.DstPort == 0 || t.DstPort == flow.DstPort)
}

// IsZero reports whether no field of the tuple is set.
func (t FiveTuple) IsZero() bool {
	return t == FiveTuple{}
}

var (
	protocolRegexp = regexp.MustCompile(`\[NEW\] (\w+)`)
	srcIPRegexp    = regexp.MustCompile(`src=([^\s]+)`)
	dstIPRegexp    = regexp.MustCompile(`dst=([^\s]+)`)
	srcPortRegexp  = regexp.MustCompile(`sport=(\d+)`)
	dstPortRegexp  = regexp.MustCompile(`dport=(\d+)`)
)

// ParseEvent scavenges the five-tuple tokens out of one connection log line.
// Tokens may appear in any order; a missing token leaves the corresponding
// field unset. A line carrying none of the tokens parses to the zero tuple.
func ParseEvent(line string) FiveTuple {
	var tuple FiveTuple

	if match := protocolRegexp.FindStringSubmatch(line); match != nil {
		tuple.Protocol = match[1]
	}
	if match := srcIPRegexp.FindStringSubmatch(line); match != nil {
		tuple.SrcIP = match[1]
	}
	if match := dstIPRegexp.FindStringSubmatch(line); match != nil {
		tuple.DstIP = match[1]
	}
	if match := srcPortRegexp.FindStringSubmatch(line); match != nil {
		if port, err := strconv.Atoi(match[1]); err == nil {
			tuple.SrcPort = port
		}
	}
	if match := dstPortRegexp.FindStringSubmatch(line); match != nil {
		if port, err := strconv.Atoi(match[1]); err == nil {
			tuple.DstPort = port
		}
	}

	return tuple
}
