package conntrack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func pingWatch() Watch {
	return Watch{
		Name:   "ping",
		Limits: Limits{Max: intPtr(0)},
		Target: FiveTuple{Protocol: "icmp"},
	}
}

func TestTracker_ProbeArmsAndIsNotCounted(t *testing.T) {
	tracker := NewTracker([]Watch{pingWatch()})

	// the loopback probe arms the tracker but is never counted as a flow
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1 type=8 code=0")
	assert.Nil(t, tracker.OutOfLimits())

	// armed now: the next icmp flow violates max=0
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=10.0.254.7 type=8 code=0")
	violations := tracker.OutOfLimits()
	require.NotNil(t, violations)
	assert.Equal(t, map[string]int{"ping": 1}, violations)
}

func TestTracker_DiscardsFlowsBeforeArming(t *testing.T) {
	tracker := NewTracker([]Watch{pingWatch()})

	// flows preceding the probe carry no confidence and are dropped
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=10.0.254.7")
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1")
	assert.Nil(t, tracker.OutOfLimits())
}

func TestTracker_NoWatchesIsNoOp(t *testing.T) {
	tracker := NewTracker(nil)

	require.NoError(t, tracker.Start(context.Background()))
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1")
	tracker.HandleLine("[NEW] udp 17 30 src=10.0.0.1 dst=10.0.0.2 sport=1 dport=2")

	assert.Nil(t, tracker.OutOfLimits())
	assert.NoError(t, tracker.WaitForConnection(context.Background(), "ping"))
	assert.NoError(t, tracker.Stop())
	assert.NoError(t, tracker.Stop(), "stop is idempotent")
}

func TestTracker_MinLimit(t *testing.T) {
	watches := []Watch{
		{
			Name:   "wg-handshake",
			Limits: Limits{Min: intPtr(1)},
			Target: FiveTuple{Protocol: "udp", DstPort: 51820},
		},
	}
	tracker := NewTracker(watches)
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1")

	violations := tracker.OutOfLimits()
	require.NotNil(t, violations)
	assert.Equal(t, map[string]int{"wg-handshake": 0}, violations)

	tracker.HandleLine("[NEW] udp 17 30 src=10.0.0.1 dst=10.0.0.2 sport=51820 dport=51820")
	assert.Nil(t, tracker.OutOfLimits())
}

func TestTracker_ObservationalWatchNeverViolates(t *testing.T) {
	watches := []Watch{
		{Name: "all-tcp", Target: FiveTuple{Protocol: "tcp"}},
	}
	tracker := NewTracker(watches)
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1")

	for i := 0; i < 5; i++ {
		tracker.HandleLine("[NEW] tcp 6 30 src=10.0.0.1 dst=10.0.0.2 sport=1000 dport=443")
	}
	assert.Nil(t, tracker.OutOfLimits(), "a watch without limits is purely observational")
}

func TestTracker_WaitForConnection(t *testing.T) {
	tracker := NewTracker([]Watch{pingWatch()})
	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=127.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- tracker.WaitForConnection(ctx, "ping")
	}()

	select {
	case err := <-done:
		t.Fatalf("wait resolved before any flow matched: %v", err)
	case <-time.After(250 * time.Millisecond):
	}

	tracker.HandleLine("[NEW] icmp 1 30 src=10.0.0.1 dst=10.0.254.7")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("wait did not resolve after a matching flow")
	}
}

func TestTracker_WaitForConnectionUnknownName(t *testing.T) {
	tracker := NewTracker([]Watch{pingWatch()})
	assert.NoError(t, tracker.WaitForConnection(context.Background(), "no-such-watch"))
}
