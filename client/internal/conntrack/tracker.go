package conntrack

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/natlabio/natlab/client/internal/proc"
)

const (
	waitPollInterval = 100 * time.Millisecond
	probeGraceWindow = time.Second
)

// probePattern is the self-test flow the tracker generates against the
// loopback interface to prove the connection log reader is live. The probe
// itself is never counted as an observed flow.
var probePattern = FiveTuple{Protocol: "icmp", DstIP: "127.0.0.1"}

// Tracker reconstructs five-tuple flows from a packet-filter connection log
// and evaluates them against the configured watches. It starts unarmed and
// discards flows until it sees its own liveness probe (or the grace window
// expires); once armed every matching flow is retained.
//
// A tracker constructed without watches is a complete no-op: it never
// launches the log reader and never reports.
type Tracker struct {
	watches []Watch

	mux   sync.Mutex
	flows []FiveTuple

	armed    atomic.Bool
	cmd      *proc.Command
	stopOnce sync.Once
	stopErr  error
}

// NewTracker returns a tracker evaluating the given watch list.
func NewTracker(watches []Watch) *Tracker {
	return &Tracker{watches: watches}
}

// Start launches the connection log reader and waits until the tracker is
// armed: it pings loopback to generate the liveness probe and polls for the
// probe to come back through the log. If the probe is not observed within
// the grace window the tracker arms anyway, with reduced confidence that no
// early flow was missed.
func (t *Tracker) Start(ctx context.Context) error {
	if len(t.watches) == 0 {
		return nil
	}

	cmd, err := proc.Start(t.HandleLine, "conntrack", "-E", "-e", "NEW")
	if err != nil {
		return fmt.Errorf("start conntrack: %w", err)
	}
	t.cmd = cmd

	ping, err := proc.Start(func(string) {}, "ping", "127.0.0.1")
	if err != nil {
		log.Warnf("failed to start liveness probe ping: %v", err)
	} else {
		defer func() {
			if err := ping.Stop(); err != nil {
				log.Warnf("stop liveness probe ping: %v", err)
			}
		}()
	}

	deadline := time.Now().Add(probeGraceWindow)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for !t.armed.Load() {
		if time.Now().After(deadline) {
			// the log reader gives no other sign of life, arm and hope no
			// early flow slipped by
			t.armed.Store(true)
			log.Warnf("liveness probe not observed within %s, tracking with degraded confidence", probeGraceWindow)
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// HandleLine classifies one connection log line. Lines that yield no tuple
// are dropped. Until the tracker is armed, tuples are discarded; the tuple
// matching the liveness probe arms the tracker and is itself swallowed.
func (t *Tracker) HandleLine(line string) {
	if len(t.watches) == 0 {
		return
	}

	flow := ParseEvent(line)
	if flow.IsZero() {
		return
	}

	if !t.armed.Load() {
		if probePattern.PartialMatch(flow) {
			t.armed.Store(true)
		}
		return
	}

	t.mux.Lock()
	t.flows = append(t.flows, flow)
	t.mux.Unlock()
}

// OutOfLimits counts the retained flows matching each watch and reports
// every watch whose count falls outside its configured bounds. Returns nil
// when no watch is configured or none is violated.
func (t *Tracker) OutOfLimits() map[string]int {
	if len(t.watches) == 0 {
		return nil
	}

	violations := make(map[string]int)
	for _, watch := range t.watches {
		count := t.countMatching(watch.Target)
		if watch.Limits.Max != nil && count > *watch.Limits.Max {
			violations[watch.Name] = count
			continue
		}
		if watch.Limits.Min != nil && count < *watch.Limits.Min {
			violations[watch.Name] = count
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return violations
}

// WaitForConnection blocks until at least one retained flow matches the
// named watch. It returns immediately when no watches are configured or
// when the name is unknown.
func (t *Tracker) WaitForConnection(ctx context.Context, name string) error {
	if len(t.watches) == 0 {
		return nil
	}

	var watch *Watch
	for i := range t.watches {
		if t.watches[i].Name == name {
			watch = &t.watches[i]
			break
		}
	}
	if watch == nil {
		return nil
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if t.countMatching(watch.Target) > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop terminates the connection log reader. Idempotent.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() {
		if t.cmd != nil {
			t.stopErr = t.cmd.Stop()
		}
	})
	return t.stopErr
}

func (t *Tracker) countMatching(target FiveTuple) int {
	t.mux.Lock()
	defer t.mux.Unlock()

	count := 0
	for _, flow := range t.flows {
		if target.PartialMatch(flow) {
			count++
		}
	}
	return count
}
