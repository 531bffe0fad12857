// Package events implements condition waits over the runtime state store.
//
// Two wait kinds exist and they are deliberately not collapsed into one:
// state waits are level-triggered and return immediately when the latest
// recorded state already satisfies the predicate, event waits are
// edge-triggered and only return once a new matching state is recorded
// after the call. The edge-triggered form is what detects transient
// transitions such as a disconnect followed by a reconnect of a peer that
// was already connected when the wait began.
package events

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/natlabio/natlab/client/internal/peer"
	"github.com/natlabio/natlab/client/internal/runtime"
)

const pollInterval = 100 * time.Millisecond

// Events is the condition wait engine. All waits poll the runtime at a
// fixed interval, carry no internal timeout and stop at the next poll
// boundary once ctx is cancelled.
type Events struct {
	runtime *runtime.Runtime
}

// New returns a wait engine reading from the given runtime.
func New(rt *runtime.Runtime) *Events {
	return &Events{runtime: rt}
}

// MessageDone blocks until the agent acknowledges the message with the
// given index on its output.
func (e *Events) MessageDone(ctx context.Context, messageIdx int) error {
	sub := e.runtime.OutputNotifier().Subscribe(messageDoneMarker(messageIdx))
	return sub.Wait(ctx)
}

// WaitForStatePeer blocks until the latest state of the peer satisfies the
// given states and paths. Level-triggered: a state reached before the call
// satisfies the wait immediately.
func (e *Events) WaitForStatePeer(ctx context.Context, pubKey string, states []peer.ConnStatus, paths []peer.PathType) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if state, ok := e.runtime.PeerState(pubKey); ok && matchPeer(state, states, paths) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForEventPeer blocks until a new matching state is recorded for the
// peer after the call. Edge-triggered: matching states recorded before the
// call do not satisfy the wait.
func (e *Events) WaitForEventPeer(ctx context.Context, pubKey string, states []peer.ConnStatus, paths []peer.PathType) error {
	next := e.runtime.PeerHistoryLen(pubKey)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		fresh, newLen := e.runtime.PeerEventsSince(pubKey, next)
		for _, state := range fresh {
			if matchPeer(state, states, paths) {
				return nil
			}
		}
		next = newLen

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForStateDerp blocks until the latest state of the relay server with
// the given IPv4 satisfies the given states. Level-triggered.
func (e *Events) WaitForStateDerp(ctx context.Context, serverIP string, states []peer.ConnStatus) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if server, ok := e.runtime.DerpState(serverIP); ok && slices.Contains(states, server.ConnState) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForEventDerp blocks until a new matching state is recorded for the
// relay server after the call. Edge-triggered.
func (e *Events) WaitForEventDerp(ctx context.Context, serverIP string, states []peer.ConnStatus) error {
	next := e.runtime.DerpHistoryLen(serverIP)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		fresh, newLen := e.runtime.DerpEventsSince(serverIP, next)
		for _, server := range fresh {
			if slices.Contains(states, server.ConnState) {
				return nil
			}
		}
		next = newLen

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func matchPeer(state peer.State, states []peer.ConnStatus, paths []peer.PathType) bool {
	return slices.Contains(states, state.ConnStatus) && slices.Contains(paths, state.Path)
}

func messageDoneMarker(messageIdx int) string {
	return "MESSAGE_DONE=" + strconv.Itoa(messageIdx)
}
