package util_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natlabio/natlab/util"
)

type testConfig struct {
	SomeMap   map[string]string
	SomeArray []string
	SomeField int
}

func TestWriteReadJson(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	written := &testConfig{
		SomeMap:   map[string]string{"key1": "value1", "key2": "value2"},
		SomeArray: []string{"value1", "value2"},
		SomeField: 99,
	}
	require.NoError(t, util.WriteJson(context.Background(), path, written))

	var read testConfig
	_, err := util.ReadJson(path, &read)
	require.NoError(t, err)
	assert.Equal(t, *written, read)
}

func TestReadJson_MissingFile(t *testing.T) {
	var read testConfig
	_, err := util.ReadJson(filepath.Join(t.TempDir(), "missing.json"), &read)
	assert.Error(t, err)
}
