// Package config loads and validates redistd's configuration: the option
// table in spec §6, bound from command-line flags and an optional TOML
// file (no environment variables are read). Modeled on teacher's internal/env package for layout
// (a plain, explicitly-constructed config value, never a package-level
// global consulted from inside a command path).
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full set of recognized options from spec §6.
type Config struct {
	Listen string `toml:"listen" validate:"required"`
	Port   int    `toml:"port" validate:"required,gt=0,lt=65536"`

	AdminListen string `toml:"admin_listen"`
	AdminPort   int    `toml:"admin_port" validate:"gte=0,lt=65536"`

	TLSEnabled  bool   `toml:"tls_enabled"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	TLSCAFile   string `toml:"tls_ca_file"`
	TLSMutual   bool   `toml:"tls_mutual"`

	PDAddrs    []string `toml:"pd_addrs"`
	InstanceID string   `toml:"instance_id" validate:"required"`
	Password   string   `toml:"password"`

	MetaKeyNumber int `toml:"meta_key_number" validate:"gt=0"`

	AsyncDeletionEnabled  bool  `toml:"async_deletion_enabled"`
	AsyncDelHashThreshold int64 `toml:"async_del_hash_threshold" validate:"gt=0"`
	AsyncDelListThreshold int64 `toml:"async_del_list_threshold" validate:"gt=0"`
	AsyncDelSetThreshold  int64 `toml:"async_del_set_threshold" validate:"gt=0"`
	AsyncDelZsetThreshold int64 `toml:"async_del_zset_threshold" validate:"gt=0"`

	AsyncGCIntervalMs      int64 `toml:"async_gc_interval_ms" validate:"gt=0"`
	AsyncGCWorkerNumber    int   `toml:"async_gc_worker_number" validate:"gt=0"`
	AsyncGCWorkerQueueSize int   `toml:"async_gc_worker_queue_size" validate:"gt=0"`

	TxnRetryCount          int     `toml:"txn_retry_count" validate:"gt=0"`
	TxnInitialBackoffMs    int64   `toml:"txn_initial_backoff_ms" validate:"gt=0"`
	TxnMaxBackoffMs        int64   `toml:"txn_max_backoff_ms" validate:"gt=0"`
	TxnBackoffMultiple     float64 `toml:"txn_backoff_multiple" validate:"gt=0"`

	CmdLremLengthLimit    int `toml:"cmd_lrem_length_limit" validate:"gt=0"`
	CmdLinsertLengthLimit int `toml:"cmd_linsert_length_limit" validate:"gt=0"`

	ClusterBroadcastAddr     string `toml:"cluster_broadcast_addr"`
	ClusterTopologyIntervalMs int64  `toml:"cluster_topology_interval_ms" validate:"gt=0"`
	ClusterTopologyExpireMs   int64  `toml:"cluster_topology_expire_ms" validate:"gt=0"`
}

// Default returns a Config populated with the defaults documented in spec
// §6, suitable as a base before flag/TOML overlay.
func Default() Config {
	return Config{
		Listen:                    "0.0.0.0",
		Port:                      6399,
		AdminListen:               "127.0.0.1",
		AdminPort:                 9121,
		InstanceID:                "default",
		MetaKeyNumber:             100,
		AsyncDeletionEnabled:      true,
		AsyncDelHashThreshold:     2000,
		AsyncDelListThreshold:     2000,
		AsyncDelSetThreshold:      2000,
		AsyncDelZsetThreshold:     2000,
		AsyncGCIntervalMs:         1000,
		AsyncGCWorkerNumber:       4,
		AsyncGCWorkerQueueSize:    1024,
		TxnRetryCount:             10,
		TxnInitialBackoffMs:       10,
		TxnMaxBackoffMs:           1000,
		TxnBackoffMultiple:        2,
		CmdLremLengthLimit:        10000,
		CmdLinsertLengthLimit:     10000,
		ClusterTopologyIntervalMs: 2000,
		ClusterTopologyExpireMs:   10000,
	}
}

// LoadTOML overlays a TOML config file onto base.
func LoadTOML(base Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := base
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate fails fast on an invalid configuration, matching spec §6's "Exit
// code 0 on clean shutdown, non-zero on startup failure".
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if cfg.TLSEnabled && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return fmt.Errorf("config: invalid: tls_enabled requires tls_cert_file and tls_key_file")
	}
	return nil
}
