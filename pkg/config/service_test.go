package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ct6_collector.toml")
	require.NoError(t, WriteDefaultConfig(path))

	var cfg CollectorConfig
	_, err := toml.DecodeFile(path, &cfg)
	require.NoError(t, err)

	assert.Equal(t, 2934, cfg.DiscoveryPort)
	assert.Equal(t, 29340, cfg.MeterPort)
	assert.True(t, cfg.PingCheck)
	assert.NotEmpty(t, cfg.StorageDir)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CT6_STORAGE_DIR", "/tmp/ct6-test-stores")
	t.Setenv("CT6_BIND_PORT", "12345")
	t.Setenv("CT6_ACCESS_LOG", "/tmp/access.log")

	cfg := defaultCollectorConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "/tmp/ct6-test-stores", cfg.StorageDir)
	assert.Equal(t, 12345, cfg.BindPort)
	assert.Equal(t, "/tmp/access.log", cfg.AccessLogPath)
}

func TestEnvOverrideIgnoresBadPort(t *testing.T) {
	t.Setenv("CT6_BIND_PORT", "not-a-port")
	cfg := defaultCollectorConfig()
	applyEnvOverrides(cfg)
	assert.Equal(t, 9040, cfg.BindPort)
}

func TestEnvUnsetLeavesDefaults(t *testing.T) {
	for _, key := range []string{
		"CT6_STORAGE_DIR", "CT6_DISCOVERY_INTERFACE",
		"CT6_BIND_ADDRESS", "CT6_BIND_PORT", "CT6_ACCESS_LOG",
	} {
		os.Unsetenv(key)
	}
	cfg := defaultCollectorConfig()
	defaults := *cfg
	applyEnvOverrides(cfg)
	assert.Equal(t, defaults, *cfg)
}
