package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

func TestLoadYAMLWithSubstitution(t *testing.T) {
	t.Setenv("TEST_DATASTORE_ROOT", "/data/store")
	path := filepath.Join(t.TempDir(), "datastore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  root: ${TEST_DATASTORE_ROOT}
  compression: zstd
  row_group_size: 1000
performance:
  writer_queue_size: 16
logging:
  level: debug
tracing:
  enabled: true
  sampling_rate: 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/store", cfg.Storage.Root)
	assert.Equal(t, "zstd", cfg.Storage.Compression)
	assert.Equal(t, 1000, cfg.Storage.RowGroupSize)
	assert.Equal(t, NewConfig("").Storage.BatchSize, cfg.Storage.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 16, cfg.Performance.WriterQueueSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)
	assert.Equal(t, "stderr", cfg.Tracing.Exporter)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATASTORE_STORAGE_ROOT", "/env/root")
	t.Setenv("DATASTORE_PERFORMANCE_DUMP_CONCURRENCY", "3")
	t.Setenv("DATASTORE_STORAGE_MEMORY_MAP", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/root", cfg.Storage.Root)
	assert.Equal(t, 3, cfg.Performance.DumpConcurrency)
	assert.Equal(t, 3, cfg.Performance.GetDumpConcurrency())
	assert.True(t, cfg.Storage.MemoryMap)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load("")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "root is required")

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"root": "/x", "compression": "lzo"}}`), 0o644))
	_, err = Load(path)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := NewConfig("/var/lib/datastore")
	cfg.Storage.Compression = "gzip"
	cfg.Performance.DumpConcurrency = 2
	cfg.Logging.Encoding = "console"

	path := filepath.Join(t.TempDir(), "datastore.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no root", func(c *Config) { c.Storage.Root = "" }},
		{"zero row group", func(c *Config) { c.Storage.RowGroupSize = 0 }},
		{"zero batch", func(c *Config) { c.Storage.BatchSize = 0 }},
		{"negative concurrency", func(c *Config) { c.Performance.DumpConcurrency = -1 }},
		{"negative queue", func(c *Config) { c.Performance.WriterQueueSize = -1 }},
		{"bad encoding", func(c *Config) { c.Logging.Encoding = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{"sampling above one", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/root")
			tt.mutate(cfg)
			assert.True(t, errors.IsType(cfg.Validate(), errors.ErrorTypeConfig))
		})
	}
	assert.NoError(t, NewConfig("/root").Validate())
}
