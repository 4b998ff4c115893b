package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alephtx/shmipc/config"
)

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[channel]
name = "custom-name"
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom-name", cfg.Channel.Name)
	require.Equal(t, config.Defaults().BufferCapacity, cfg.Channel.BufferCapacity)
	require.Equal(t, config.Defaults().BufferNodeCount, cfg.Channel.BufferNodeCount)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/config.toml")
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[channel]
name = "from-file"
buffer_capacity = 4096
`), 0o644))

	t.Setenv("SHMIPC_NAME", "from-env")
	t.Setenv("SHMIPC_CAPACITY", "8192")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Channel.Name)
	require.EqualValues(t, 8192, cfg.Channel.BufferCapacity)
}

func TestPeerOpenTimeoutConversion(t *testing.T) {
	c := config.ChannelConfig{PeerOpenTimeoutMs: 1500}
	require.Equal(t, 1500*time.Millisecond, c.PeerOpenTimeout())
}
