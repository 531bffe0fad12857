// Package monitor attaches the structured runtime to a running agent
// process. It owns the single reader loop feeding the classifier and the
// teardown checks; sending commands to the agent is not its business.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/natlabio/natlab/client/errors"
	"github.com/natlabio/natlab/client/internal/events"
	"github.com/natlabio/natlab/client/internal/peer"
	"github.com/natlabio/natlab/client/internal/proc"
	"github.com/natlabio/natlab/client/internal/runtime"
)

// suppressEcho lists line fragments that are classified but too chatty to
// echo into the harness log.
var suppressEcho = []string{
	"MESSAGE_DONE=",
	"task started - ",
	"task stopped - ",
}

// Monitor observes one agent process: it classifies every output line into
// the runtime and exposes the wait engine over the rebuilt state.
type Monitor struct {
	name    string
	runtime *runtime.Runtime
	events  *events.Events

	mux         sync.Mutex
	cmd         *proc.Command
	classifyErr error
}

// New returns a monitor with an empty runtime. name labels echoed agent
// output in the harness log.
func New(name string) *Monitor {
	rt := runtime.New()
	return &Monitor{
		name:    name,
		runtime: rt,
		events:  events.New(rt),
	}
}

// Runtime exposes the underlying state store.
func (m *Monitor) Runtime() *runtime.Runtime {
	return m.runtime
}

// Events exposes the underlying wait engine.
func (m *Monitor) Events() *events.Events {
	return m.events
}

// AllowPeer authorizes peer public keys for this session.
func (m *Monitor) AllowPeer(pubKeys ...string) {
	m.runtime.AllowPeer(pubKeys...)
}

// Attach starts the agent command and feeds its output into the
// classifier.
func (m *Monitor) Attach(command string, args ...string) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.cmd != nil {
		return fmt.Errorf("monitor %s already attached", m.name)
	}

	cmd, err := proc.Start(m.HandleLine, command, args...)
	if err != nil {
		return fmt.Errorf("attach to agent: %w", err)
	}
	m.cmd = cmd
	return nil
}

// HandleLine feeds one output line into the classifier. A classification
// error signals the agent output and this harness have desynchronized; the
// first one is kept and reported by Stop.
func (m *Monitor) HandleLine(line string) {
	if !m.suppressed(line) {
		log.Infof("[%s]: %s", m.name, line)
	}

	if _, err := m.runtime.HandleOutputLine(line); err != nil {
		log.Errorf("[%s]: classify output line: %v", m.name, err)
		m.mux.Lock()
		if m.classifyErr == nil {
			m.classifyErr = err
		}
		m.mux.Unlock()
	}
}

// SubscribeOutput registers a substring watch on the raw agent output.
func (m *Monitor) SubscribeOutput(substr string) *runtime.OutputSubscription {
	return m.runtime.OutputNotifier().Subscribe(substr)
}

// PeerState returns the latest recorded state for the peer.
func (m *Monitor) PeerState(pubKey string) (peer.State, bool) {
	return m.runtime.PeerState(pubKey)
}

// DerpState returns the latest recorded state for the relay server.
func (m *Monitor) DerpState(serverIP string) (peer.DerpServer, bool) {
	return m.runtime.DerpState(serverIP)
}

// EndpointAddress returns the host part of the peer's latest endpoint.
func (m *Monitor) EndpointAddress(pubKey string) (string, error) {
	state, ok := m.runtime.PeerState(pubKey)
	if !ok {
		return "", fmt.Errorf("no state recorded for peer %s", pubKey)
	}
	if state.Endpoint == nil {
		return "", fmt.Errorf("peer %s has no endpoint", pubKey)
	}
	host, _, found := strings.Cut(*state.Endpoint, ":")
	if !found {
		return *state.Endpoint, nil
	}
	return host, nil
}

// WaitForStatePeer waits level-triggered for the peer to be in one of the
// given states. Without explicit paths the relay path is assumed.
func (m *Monitor) WaitForStatePeer(ctx context.Context, pubKey string, states []peer.ConnStatus, paths ...peer.PathType) error {
	return m.events.WaitForStatePeer(ctx, pubKey, states, defaultPaths(paths))
}

// WaitForEventPeer waits edge-triggered for a new matching peer state.
// Without explicit paths the relay path is assumed.
func (m *Monitor) WaitForEventPeer(ctx context.Context, pubKey string, states []peer.ConnStatus, paths ...peer.PathType) error {
	return m.events.WaitForEventPeer(ctx, pubKey, states, defaultPaths(paths))
}

// WaitForStateDerp waits level-triggered for the relay server state.
func (m *Monitor) WaitForStateDerp(ctx context.Context, serverIP string, states []peer.ConnStatus) error {
	return m.events.WaitForStateDerp(ctx, serverIP, states)
}

// WaitForEventDerp waits edge-triggered for a new matching relay server
// state.
func (m *Monitor) WaitForEventDerp(ctx context.Context, serverIP string, states []peer.ConnStatus) error {
	return m.events.WaitForEventDerp(ctx, serverIP, states)
}

// WaitForStateOnAnyDerp resolves when any of the servers reaches one of
// the states.
func (m *Monitor) WaitForStateOnAnyDerp(ctx context.Context, serverIPs []string, states []peer.ConnStatus) error {
	return m.events.WaitForStateOnAnyDerp(ctx, serverIPs, states)
}

// WaitForEventOnAnyDerp resolves when any of the servers records a new
// matching state.
func (m *Monitor) WaitForEventOnAnyDerp(ctx context.Context, serverIPs []string, states []peer.ConnStatus) error {
	return m.events.WaitForEventOnAnyDerp(ctx, serverIPs, states)
}

// WaitForEveryDerpDisconnection resolves once every server has left the
// connected state.
func (m *Monitor) WaitForEveryDerpDisconnection(ctx context.Context, serverIPs []string) error {
	return m.events.WaitForEveryDerpDisconnection(ctx, serverIPs)
}

// Stop detaches from the agent process and runs the teardown checks: the
// task ledger must balance and no classification error may be pending.
func (m *Monitor) Stop() error {
	m.mux.Lock()
	cmd := m.cmd
	m.cmd = nil
	classifyErr := m.classifyErr
	m.mux.Unlock()

	var result *multierror.Error
	if cmd != nil {
		if err := cmd.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop agent process: %w", err))
		}
	}
	if classifyErr != nil {
		result = multierror.Append(result, classifyErr)
	}
	if err := m.runtime.CheckTaskLedger(); err != nil {
		result = multierror.Append(result, err)
	}
	return nberrors.FormatErrorOrNil(result)
}

func (m *Monitor) suppressed(line string) bool {
	for _, fragment := range suppressEcho {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func defaultPaths(paths []peer.PathType) []peer.PathType {
	if len(paths) == 0 {
		return []peer.PathType{peer.PathRelay}
	}
	return paths
}
