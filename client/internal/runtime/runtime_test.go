package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natlabio/natlab/client/internal/peer"
)

func peerState(pubKey string, status peer.ConnStatus) peer.State {
	return peer.State{PublicKey: pubKey, ConnStatus: status}
}

func TestRuntime_LatestFollowsAppendOrder(t *testing.T) {
	rt := New()
	rt.AllowPeer("PUBKEY-A")

	_, ok := rt.PeerState("PUBKEY-A")
	assert.False(t, ok, "no state before the first record")

	require.NoError(t, rt.RecordPeerState(peerState("PUBKEY-A", peer.StatusConnecting)))
	require.NoError(t, rt.RecordPeerState(peerState("PUBKEY-A", peer.StatusConnected)))

	state, ok := rt.PeerState("PUBKEY-A")
	require.True(t, ok)
	assert.Equal(t, peer.StatusConnected, state.ConnStatus)
	assert.Equal(t, 2, rt.PeerHistoryLen("PUBKEY-A"))
}

func TestRuntime_EventsSinceScansEachEntryOnce(t *testing.T) {
	rt := New()
	rt.AllowPeer("PUBKEY-A")

	require.NoError(t, rt.RecordPeerState(peerState("PUBKEY-A", peer.StatusConnecting)))

	suffix, next := rt.PeerEventsSince("PUBKEY-A", 0)
	require.Len(t, suffix, 1)
	assert.Equal(t, 1, next)

	suffix, next = rt.PeerEventsSince("PUBKEY-A", next)
	assert.Empty(t, suffix)
	assert.Equal(t, 1, next)

	require.NoError(t, rt.RecordPeerState(peerState("PUBKEY-A", peer.StatusConnected)))
	suffix, next = rt.PeerEventsSince("PUBKEY-A", next)
	require.Len(t, suffix, 1)
	assert.Equal(t, peer.StatusConnected, suffix[0].ConnStatus)
	assert.Equal(t, 2, next)
}

func TestRuntime_RecordPeerStateRejectsUnknownKey(t *testing.T) {
	rt := New()
	rt.AllowPeer("PUBKEY-A")

	err := rt.RecordPeerState(peerState("PUBKEY-B", peer.StatusConnected))
	assert.ErrorIs(t, err, ErrPeerNotAllowed)
	assert.Equal(t, 0, rt.PeerHistoryLen("PUBKEY-B"))
}

func TestRuntime_TaskLedger(t *testing.T) {
	rt := New()

	feed := func(lines ...string) {
		for _, line := range lines {
			_, err := rt.HandleOutputLine(line)
			require.NoError(t, err)
		}
	}

	feed("task started - A", "task started - B", "task stopped - B", "task stopped - A")
	assert.NoError(t, rt.CheckTaskLedger(), "order does not matter, only the multiset")

	feed("task started - A", "task stopped - B")
	err := rt.CheckTaskLedger()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestRuntime_DerpHistory(t *testing.T) {
	rt := New()

	rt.RecordDerpState(peer.DerpServer{IPv4: "10.0.10.1", ConnState: peer.StatusConnecting})
	rt.RecordDerpState(peer.DerpServer{IPv4: "10.0.10.1", ConnState: peer.StatusConnected})
	rt.RecordDerpState(peer.DerpServer{IPv4: "10.0.10.2", ConnState: peer.StatusConnecting})

	server, ok := rt.DerpState("10.0.10.1")
	require.True(t, ok)
	assert.Equal(t, peer.StatusConnected, server.ConnState)
	assert.Equal(t, 2, rt.DerpHistoryLen("10.0.10.1"))
	assert.Equal(t, 1, rt.DerpHistoryLen("10.0.10.2"))
}
