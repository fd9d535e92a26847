// Package config loads data store configuration.
//
// # Sources
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Defaults from NewConfig
//  2. A YAML, JSON or TOML file passed to Load
//  3. Environment variables named DATASTORE_<SECTION>_<KEY>
//
// File contents may reference environment variables with ${VAR_NAME}:
//
//	storage:
//	  root: ${DATA_DIR}/tables
//	  compression: zstd
//	  row_group_size: 65536
//	  memory_map: false
//	performance:
//	  dump_concurrency: 4
//	  writer_queue_size: 1024
//	logging:
//	  level: info
//	  encoding: json
//	tracing:
//	  enabled: true
//	  exporter: stderr
//	  sampling_rate: 0.1
//
// Save writes a Config back as YAML.
package config
