package runtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/natlabio/natlab/client/internal/peer"
)

const (
	peerEventPrefix   = "event node: "
	derpEventPrefix   = "event relay: "
	taskStartedPrefix = "task started - "
	taskStoppedPrefix = "task stopped - "
)

// payloadRegexp extracts the outermost brace-delimited object embedded in an
// event line. The agent escapes the payload when echoing it, so backslashes
// are stripped before decoding.
var payloadRegexp = regexp.MustCompile(`\{(.*)\}`)

// lineHandler is one entry of the ordered classification table. handle
// reports whether it consumed the line; a non-nil error means the line did
// match this handler's shape but carried a payload that could not be
// decoded or recorded.
type lineHandler struct {
	name   string
	handle func(line string) (bool, error)
}

// classifiers returns the classification table in its fixed priority order.
// The first matching handler wins and no later handler sees the line.
func (r *Runtime) classifiers() []lineHandler {
	return []lineHandler{
		{name: "peer event", handle: r.handlePeerEvent},
		{name: "output notifier", handle: func(line string) (bool, error) {
			return r.notifier.HandleOutput(line), nil
		}},
		{name: "derp event", handle: r.handleDerpEvent},
		{name: "task info", handle: r.handleTaskInfo},
	}
}

// HandleOutputLine classifies a single line of agent output and applies its
// effect. It returns whether the line was classified at all; unclassified
// lines are expected process chatter, not errors. A malformed embedded
// payload is an error since it signals the agent and this harness have
// desynchronized.
func (r *Runtime) HandleOutputLine(line string) (bool, error) {
	for _, h := range r.lineHandlers {
		handled, err := h.handle(line)
		if err != nil {
			return false, fmt.Errorf("%s: %w", h.name, err)
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runtime) handlePeerEvent(line string) (bool, error) {
	if !strings.HasPrefix(line, peerEventPrefix) {
		return false, nil
	}

	payload, ok := extractPayload(strings.TrimPrefix(line, peerEventPrefix))
	if !ok {
		return false, nil
	}

	var state peer.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return false, fmt.Errorf("decode peer state: %w", err)
	}
	if err := r.RecordPeerState(state); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runtime) handleDerpEvent(line string) (bool, error) {
	if !strings.HasPrefix(line, derpEventPrefix) {
		return false, nil
	}

	payload, ok := extractPayload(strings.TrimPrefix(line, derpEventPrefix))
	if !ok {
		return false, nil
	}

	var server peer.DerpServer
	if err := json.Unmarshal([]byte(payload), &server); err != nil {
		return false, fmt.Errorf("decode derp server state: %w", err)
	}
	r.RecordDerpState(server)
	return true, nil
}

func (r *Runtime) handleTaskInfo(line string) (bool, error) {
	if name, ok := strings.CutPrefix(line, taskStartedPrefix); ok {
		r.mux.Lock()
		r.startedTasks = append(r.startedTasks, strings.TrimSpace(name))
		r.mux.Unlock()
		return true, nil
	}

	if name, ok := strings.CutPrefix(line, taskStoppedPrefix); ok {
		r.mux.Lock()
		r.stoppedTasks = append(r.stoppedTasks, strings.TrimSpace(name))
		r.mux.Unlock()
		return true, nil
	}

	return false, nil
}

func extractPayload(s string) (string, bool) {
	match := payloadRegexp.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return "", false
	}
	return "{" + strings.ReplaceAll(match[1], `\`, "") + "}", true
}
