package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitAndSyncFlushGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	require.NoError(t, Init(Config{Level: "debug", OutputPaths: []string{path}}))
	// later Init calls keep the first logger
	require.NoError(t, Init(Config{Level: "error"}))

	Get().Debug("dumped table", zap.String("table", "runs/eval"))
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"dumped table"`)
	assert.Contains(t, string(data), `"table":"runs/eval"`)
}
