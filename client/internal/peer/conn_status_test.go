package peer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnStatus_String(t *testing.T) {
	tables := []struct {
		name   string
		status ConnStatus
		want   string
	}{
		{"StatusConnected", StatusConnected, "Connected"},
		{"StatusDisconnected", StatusDisconnected, "Disconnected"},
		{"StatusConnecting", StatusConnecting, "Connecting"},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			got := table.status.String()
			assert.Equal(t, table.want, got, "they should be equal")
		})
	}
}

func TestConnStatus_WireCodec(t *testing.T) {
	tables := []struct {
		wire   string
		status ConnStatus
	}{
		{`"disconnected"`, StatusDisconnected},
		{`"connecting"`, StatusConnecting},
		{`"connected"`, StatusConnected},
	}

	for _, table := range tables {
		t.Run(table.wire, func(t *testing.T) {
			var status ConnStatus
			require.NoError(t, json.Unmarshal([]byte(table.wire), &status))
			assert.Equal(t, table.status, status)

			data, err := json.Marshal(table.status)
			require.NoError(t, err)
			assert.Equal(t, table.wire, string(data))
		})
	}
}

func TestConnStatus_UnknownWireValue(t *testing.T) {
	var status ConnStatus
	err := json.Unmarshal([]byte(`"flapping"`), &status)
	assert.Error(t, err)
}

func TestPathType_WireCodec(t *testing.T) {
	var path PathType
	require.NoError(t, json.Unmarshal([]byte(`"direct"`), &path))
	assert.Equal(t, PathDirect, path)

	require.NoError(t, json.Unmarshal([]byte(`"relay"`), &path))
	assert.Equal(t, PathRelay, path)

	assert.Error(t, json.Unmarshal([]byte(`"carrier-pigeon"`), &path))
}
