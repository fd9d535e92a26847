package config

import (
	"runtime"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/logger"
	"github.com/ajitpratap0/datastore/pkg/observability"
	"github.com/ajitpratap0/datastore/pkg/storage"
)

// Config is the complete configuration of a data store.
type Config struct {
	// Storage settings control where and how table files are written
	Storage StorageConfig `yaml:"storage" json:"storage" mapstructure:"storage"`

	// Performance settings bound background work
	Performance PerformanceConfig `yaml:"performance" json:"performance" mapstructure:"performance"`

	// Logging configures the process logger
	Logging LoggingConfig `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Tracing configures OpenTelemetry span export
	Tracing TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// StorageConfig contains the on-disk layout settings.
type StorageConfig struct {
	// Root is the directory under which every table directory lives
	Root string `yaml:"root" json:"root" mapstructure:"root"`
	// RowGroupSize is the maximum number of rows per Parquet row group
	RowGroupSize int `yaml:"row_group_size" json:"row_group_size" mapstructure:"row_group_size"`
	// Compression is the Parquet codec: none, snappy, gzip, zstd or brotli
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// BatchSize is the number of rows decoded at a time when scanning files
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// MemoryMap maps table files into memory when scanning them
	MemoryMap bool `yaml:"memory_map" json:"memory_map" mapstructure:"memory_map"`
}

// PerformanceConfig contains concurrency limits.
type PerformanceConfig struct {
	// DumpConcurrency limits how many tables are dumped in parallel
	DumpConcurrency int `yaml:"dump_concurrency" json:"dump_concurrency" mapstructure:"dump_concurrency"`
	// WriterQueueSize is the channel capacity of each table writer
	WriterQueueSize int `yaml:"writer_queue_size" json:"writer_queue_size" mapstructure:"writer_queue_size"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error
	Level string `yaml:"level" json:"level" mapstructure:"level"`
	// Encoding is json or console
	Encoding string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	// Development enables development mode
	Development bool `yaml:"development" json:"development" mapstructure:"development"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	Exporter     string  `yaml:"exporter" json:"exporter" mapstructure:"exporter"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate" mapstructure:"sampling_rate"`
}

// NewConfig creates a Config rooted at root with default values for every
// other setting.
//
// Example:
//
//	cfg := config.NewConfig("/var/lib/datastore")
//	cfg.Storage.Compression = "zstd"  // Override default
func NewConfig(root string) *Config {
	return &Config{
		Storage: StorageConfig{
			Root:         root,
			RowGroupSize: storage.DefaultRowGroupSize,
			Compression:  "snappy",
			BatchSize:    storage.DefaultBatchSize,
		},
		Performance: PerformanceConfig{
			DumpConcurrency: runtime.NumCPU(),
			WriterQueueSize: 1024,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "datastore",
			Exporter:     "stderr",
			SamplingRate: 1,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return errors.New(errors.ErrorTypeConfig, "storage.root is required")
	}
	if c.Storage.RowGroupSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "storage.row_group_size must be positive")
	}
	if c.Storage.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "storage.batch_size must be positive")
	}
	if err := storage.ValidateCompression(c.Storage.Compression); err != nil {
		return err
	}
	if c.Performance.DumpConcurrency < 0 {
		return errors.New(errors.ErrorTypeConfig, "performance.dump_concurrency cannot be negative")
	}
	if c.Performance.WriterQueueSize < 0 {
		return errors.New(errors.ErrorTypeConfig, "performance.writer_queue_size cannot be negative")
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "logging.encoding %q is not json or console", c.Logging.Encoding)
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "stderr":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "tracing.exporter %q is not stdout or stderr", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}

// GetDumpConcurrency returns the dump concurrency, ensuring it's at least 1.
func (p *PerformanceConfig) GetDumpConcurrency() int {
	if p.DumpConcurrency <= 0 {
		return runtime.NumCPU()
	}
	return p.DumpConcurrency
}

// WriteOptions returns the file layout options of the storage section.
func (s *StorageConfig) WriteOptions() storage.WriteOptions {
	return storage.WriteOptions{
		RowGroupSize: s.RowGroupSize,
		Compression:  s.Compression,
	}
}

// Observability returns the tracing configuration.
func (t *TracingConfig) Observability() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:      t.Enabled,
		ServiceName:  t.ServiceName,
		Exporter:     t.Exporter,
		SamplingRate: t.SamplingRate,
	}
}

// Logger returns the logger configuration.
func (l *LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		Encoding:    l.Encoding,
	}
}
