package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/natlabio/natlab/client/internal/peer"
)

// ErrPeerNotAllowed is returned when a peer state shows up for a public key
// that was never allow-listed for the session. This is a configuration
// fault, not a runtime condition to recover from.
var ErrPeerNotAllowed = errors.New("peer public key not in allow-list")

// Runtime owns the structured state rebuilt from the agent output: ordered,
// append-only state histories per peer public key and per relay server IPv4,
// plus the start/stop task ledger. A single reader loop appends while any
// number of wait loops read concurrently.
type Runtime struct {
	mux          sync.RWMutex
	lineHandlers []lineHandler
	notifier     *OutputNotifier
	peerEvents   map[string][]peer.State
	derpEvents   map[string][]peer.DerpServer
	allowedKeys  map[string]struct{}
	startedTasks []string
	stoppedTasks []string
}

// New returns an empty Runtime
func New() *Runtime {
	r := &Runtime{
		notifier:    newOutputNotifier(),
		peerEvents:  make(map[string][]peer.State),
		derpEvents:  make(map[string][]peer.DerpServer),
		allowedKeys: make(map[string]struct{}),
	}
	r.lineHandlers = r.classifiers()
	return r
}

// OutputNotifier exposes the substring subscription surface.
func (r *Runtime) OutputNotifier() *OutputNotifier {
	return r.notifier
}

// AllowPeer authorizes the given public keys to emit peer state for this
// session. Only allow-listed keys may be recorded.
func (r *Runtime) AllowPeer(pubKeys ...string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, key := range pubKeys {
		r.allowedKeys[key] = struct{}{}
	}
}

// AllowedPeers returns the allow-listed public keys in no particular order.
func (r *Runtime) AllowedPeers() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return maps.Keys(r.allowedKeys)
}

// RecordPeerState appends a peer state to the history of its public key.
// Recording a state for a key outside the allow-list fails with
// ErrPeerNotAllowed.
func (r *Runtime) RecordPeerState(state peer.State) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, ok := r.allowedKeys[state.PublicKey]; !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotAllowed, state.PublicKey)
	}
	r.peerEvents[state.PublicKey] = append(r.peerEvents[state.PublicKey], state)
	return nil
}

// RecordDerpState appends a relay server state to the history of its IPv4.
func (r *Runtime) RecordDerpState(server peer.DerpServer) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.derpEvents[server.IPv4] = append(r.derpEvents[server.IPv4], server)
}

// PeerState returns the latest recorded state for the given public key.
func (r *Runtime) PeerState(pubKey string) (peer.State, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	events := r.peerEvents[pubKey]
	if len(events) == 0 {
		return peer.State{}, false
	}
	return events[len(events)-1], true
}

// DerpState returns the latest recorded state for the given server IPv4.
func (r *Runtime) DerpState(serverIP string) (peer.DerpServer, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	events := r.derpEvents[serverIP]
	if len(events) == 0 {
		return peer.DerpServer{}, false
	}
	return events[len(events)-1], true
}

// PeerEventsSince returns a copy of the history suffix starting at index
// from, along with the current history length. Waiters use the returned
// length as the next from value, scanning each entry exactly once.
func (r *Runtime) PeerEventsSince(pubKey string, from int) ([]peer.State, int) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	events := r.peerEvents[pubKey]
	if from >= len(events) {
		return nil, len(events)
	}
	suffix := make([]peer.State, len(events)-from)
	copy(suffix, events[from:])
	return suffix, len(events)
}

// DerpEventsSince is PeerEventsSince for relay server histories.
func (r *Runtime) DerpEventsSince(serverIP string, from int) ([]peer.DerpServer, int) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	events := r.derpEvents[serverIP]
	if from >= len(events) {
		return nil, len(events)
	}
	suffix := make([]peer.DerpServer, len(events)-from)
	copy(suffix, events[from:])
	return suffix, len(events)
}

// PeerHistoryLen returns the number of recorded states for the public key.
func (r *Runtime) PeerHistoryLen(pubKey string) int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.peerEvents[pubKey])
}

// DerpHistoryLen returns the number of recorded states for the server IPv4.
func (r *Runtime) DerpHistoryLen(serverIP string) int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.derpEvents[serverIP])
}

// StartedTasks returns an ordered copy of the started task names.
func (r *Runtime) StartedTasks() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	started := make([]string, len(r.startedTasks))
	copy(started, r.startedTasks)
	return started
}

// StoppedTasks returns an ordered copy of the stopped task names.
func (r *Runtime) StoppedTasks() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	stopped := make([]string, len(r.stoppedTasks))
	copy(stopped, r.stoppedTasks)
	return stopped
}

// CheckTaskLedger verifies at session teardown that every started task was
// also stopped. The comparison is a multiset comparison, order does not
// matter.
func (r *Runtime) CheckTaskLedger() error {
	r.mux.RLock()
	defer r.mux.RUnlock()

	counts := make(map[string]int)
	for _, name := range r.startedTasks {
		counts[name]++
	}
	for _, name := range r.stoppedTasks {
		counts[name]--
	}

	var mismatched []string
	for name, count := range counts {
		if count != 0 {
			mismatched = append(mismatched, name)
		}
	}
	if len(mismatched) == 0 {
		return nil
	}
	sort.Strings(mismatched)
	return fmt.Errorf("started and stopped tasks differ: %v", mismatched)
}
