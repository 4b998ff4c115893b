// Package config loads rpc.Options from a TOML file, the same way the
// teacher's feeder/config package loaded per-exchange connection settings,
// generalized from "map of exchange configs" to "one channel's
// construction options". An optional .env file can seed environment
// variables before the overrides below are read, mirroring main.go's own
// reliance on process environment for its config path and shm name.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk shape of config.toml.
type File struct {
	Channel ChannelConfig `toml:"channel"`
}

// ChannelConfig mirrors rpc.Options field-for-field; it's kept separate
// from rpc.Options itself so this package doesn't need to import rpc (which
// would make config depend on the Handler type it can never express in
// TOML).
type ChannelConfig struct {
	Name              string `toml:"name"`
	BufferNodeCount   uint32 `toml:"buffer_node_count"`
	BufferCapacity    uint32 `toml:"buffer_capacity"`
	ReceiveThreads    int    `toml:"receive_threads"`
	PeerOpenTimeoutMs int64  `toml:"peer_open_timeout_ms"`
}

// Defaults returns the values Load starts from before parsing config.toml.
// ReceiveThreads and PeerOpenTimeoutMs match what rpc.Options.setDefaults()
// fills in for zero values; setDefaults does not fill Name,
// BufferNodeCount or BufferCapacity, so a zero-value rpc.Options is
// rejected by rpc.Construct.
func Defaults() ChannelConfig {
	return ChannelConfig{
		Name:              "shmipc",
		BufferNodeCount:   16,
		BufferCapacity:    4096,
		ReceiveThreads:    1,
		PeerOpenTimeoutMs: 30_000,
	}
}

// Load reads and parses path as TOML into a File. It first tries to load
// a .env file from the current working directory (not from path's
// directory); a missing .env is not an error — godotenv.Load is best-effort, matching the
// teacher's own config.Load, which never required a .env either.
func Load(path string) (*File, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := File{Channel: Defaults()}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg.Channel)
	return &cfg, nil
}

// applyEnvOverrides reads SHMIPC_NAME / SHMIPC_CAPACITY / SHMIPC_NODE_COUNT
// / SHMIPC_RECEIVE_THREADS over whatever config.toml set, the same
// "env var wins if present" precedence main.go uses for
// ALEPH_FEEDER_CONFIG / ALEPH_SHM.
func applyEnvOverrides(c *ChannelConfig) {
	if v := os.Getenv("SHMIPC_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("SHMIPC_CAPACITY"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.BufferCapacity = uint32(n)
		}
	}
	if v := os.Getenv("SHMIPC_NODE_COUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.BufferNodeCount = uint32(n)
		}
	}
	if v := os.Getenv("SHMIPC_RECEIVE_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReceiveThreads = n
		}
	}
}

// PeerOpenTimeout converts the millisecond TOML field into a time.Duration
// for rpc.Options.
func (c ChannelConfig) PeerOpenTimeout() time.Duration {
	return time.Duration(c.PeerOpenTimeoutMs) * time.Millisecond
}
