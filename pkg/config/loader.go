package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. DATASTORE_STORAGE_ROOT.
const EnvPrefix = "DATASTORE"

// Load reads a configuration file on top of the defaults. The format follows
// the file extension (yaml, json or toml), ${VAR_NAME} references are
// substituted from the environment, and DATASTORE_<SECTION>_<KEY> variables
// override file values. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		format := strings.TrimPrefix(filepath.Ext(path), ".")
		if format == "" || format == "yml" {
			format = "yaml"
		}
		v.SetConfigType(format)
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// defaults make every key known to viper so environment overrides apply
	d := NewConfig("")
	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("storage.row_group_size", d.Storage.RowGroupSize)
	v.SetDefault("storage.compression", d.Storage.Compression)
	v.SetDefault("storage.batch_size", d.Storage.BatchSize)
	v.SetDefault("storage.memory_map", d.Storage.MemoryMap)
	v.SetDefault("performance.dump_concurrency", d.Performance.DumpConcurrency)
	v.SetDefault("performance.writer_queue_size", d.Performance.WriterQueueSize)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	return v
}

// Save writes cfg to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
