package events

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natlabio/natlab/client/internal/peer"
)

const (
	anyStatePollInterval = 10 * time.Millisecond
	fanoutPollInterval   = 100 * time.Millisecond
)

// WaitForStateOnAnyDerp resolves as soon as any one of the given relay
// servers reaches one of the given states. Cancellation is swallowed: on a
// cancelled ctx the composite returns nil after stopping its sub-waits.
func (e *Events) WaitForStateOnAnyDerp(ctx context.Context, serverIPs []string, states []peer.ConnStatus) error {
	return e.derpFanout(ctx, serverIPs, false, anyStatePollInterval, func(subCtx context.Context, serverIP string) error {
		return e.WaitForStateDerp(subCtx, serverIP, states)
	})
}

// WaitForEventOnAnyDerp resolves as soon as any one of the given relay
// servers records a new matching state after the call.
func (e *Events) WaitForEventOnAnyDerp(ctx context.Context, serverIPs []string, states []peer.ConnStatus) error {
	return e.derpFanout(ctx, serverIPs, false, fanoutPollInterval, func(subCtx context.Context, serverIP string) error {
		return e.WaitForEventDerp(subCtx, serverIP, states)
	})
}

// WaitForEveryDerpDisconnection resolves only once every one of the given
// relay servers has left the connected state.
func (e *Events) WaitForEveryDerpDisconnection(ctx context.Context, serverIPs []string) error {
	states := []peer.ConnStatus{peer.StatusDisconnected, peer.StatusConnecting}
	return e.derpFanout(ctx, serverIPs, true, fanoutPollInterval, func(subCtx context.Context, serverIP string) error {
		return e.WaitForStateDerp(subCtx, serverIP, states)
	})
}

// derpFanout runs one sub-wait per server concurrently and polls their
// completion flags. With all set it resolves once every sub-wait finished,
// otherwise once any one did. Remaining sub-waits are cancelled on return
// and their cancellation errors are discarded.
func (e *Events) derpFanout(ctx context.Context, serverIPs []string, all bool, interval time.Duration, wait func(context.Context, string) error) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make([]atomic.Bool, len(serverIPs))
	var group errgroup.Group
	for i, serverIP := range serverIPs {
		i, serverIP := i, serverIP
		group.Go(func() error {
			if err := wait(subCtx, serverIP); err != nil {
				return err
			}
			done[i].Store(true)
			return nil
		})
	}
	defer func() {
		cancel()
		_ = group.Wait()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		finished := 0
		for i := range done {
			if done[i].Load() {
				finished++
			}
		}
		if (all && finished == len(serverIPs)) || (!all && finished > 0) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
