package proc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_StreamsLines(t *testing.T) {
	var mux sync.Mutex
	var lines []string

	cmd, err := Start(func(line string) {
		mux.Lock()
		lines = append(lines, line)
		mux.Unlock()
	}, "sh", "-c", "printf 'first\\nsecond\\n'")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cmd.Wait(ctx))

	mux.Lock()
	defer mux.Unlock()
	assert.Equal(t, []string{"first", "second"}, lines)
}

func TestStart_UnknownCommand(t *testing.T) {
	_, err := Start(func(string) {}, "definitely-not-a-command-on-this-host")
	assert.Error(t, err)
}

func TestStop_Idempotent(t *testing.T) {
	cmd, err := Start(func(string) {}, "sleep", "60")
	require.NoError(t, err)

	assert.NoError(t, cmd.Stop(), "a deliberate kill is not an error")
	assert.NoError(t, cmd.Stop())

	select {
	case <-cmd.Done():
	default:
		t.Fatal("process not drained after stop")
	}
}
