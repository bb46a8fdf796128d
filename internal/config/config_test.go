package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadClientConfig_Defaults(t *testing.T) {
	cfg, err := LoadClientConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "localhost:6789", cfg.ServerAddr)
	require.Equal(t, uint32(144), cfg.RefreshExpiryThreshold)
}

func TestLoadClientConfig_Overrides(t *testing.T) {
	cfg, err := LoadClientConfig([]string{"--server", "bridge.example.com:7000", "--network", "liquidregtest"})
	require.NoError(t, err)
	require.Equal(t, "bridge.example.com:7000", cfg.ServerAddr)
	require.Equal(t, "liquidregtest", cfg.Network)
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig(nil)
	require.NoError(t, err)
	require.Equal(t, uint32(144), cfg.HTLCSendExpiryDelta)
	require.Equal(t, "bridge.db", cfg.SqliteDBPath)
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	cfg, err := LoadServerConfig([]string{"--htlc_send_expiry_delta", "288", "--listen", "127.0.0.1:9999"})
	require.NoError(t, err)
	require.Equal(t, uint32(288), cfg.HTLCSendExpiryDelta)
	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
}
