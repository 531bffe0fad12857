package runtime

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// OutputSubscription is fulfilled when a line containing the subscribed
// substring shows up in the agent output. Each subscription fires once.
type OutputSubscription struct {
	id     string
	substr string
	done   chan struct{}
}

// Done returns a channel closed once the substring has been observed.
func (s *OutputSubscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the substring has been observed or ctx is cancelled.
func (s *OutputSubscription) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutputNotifier fulfils registered substring subscriptions against raw
// output lines. It sits second in the classification order, between peer
// and relay event handling.
type OutputNotifier struct {
	mux  sync.Mutex
	subs map[string]*OutputSubscription
}

func newOutputNotifier() *OutputNotifier {
	return &OutputNotifier{
		subs: make(map[string]*OutputSubscription),
	}
}

// Subscribe registers a substring to watch for.
func (n *OutputNotifier) Subscribe(substr string) *OutputSubscription {
	sub := &OutputSubscription{
		id:     uuid.New().String(),
		substr: substr,
		done:   make(chan struct{}),
	}

	n.mux.Lock()
	defer n.mux.Unlock()
	n.subs[sub.id] = sub
	return sub
}

// HandleOutput fulfils and removes every subscription whose substring is
// contained in line. Returns true if at least one subscription matched.
func (n *OutputNotifier) HandleOutput(line string) bool {
	n.mux.Lock()
	defer n.mux.Unlock()

	matched := false
	for id, sub := range n.subs {
		if strings.Contains(line, sub.substr) {
			close(sub.done)
			delete(n.subs, id)
			matched = true
		}
	}
	return matched
}
