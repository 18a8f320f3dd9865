package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
)

var ActiveCollectorConfig *CollectorConfig

func defaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		StorageDir:         pathing.GetDataDir(),
		DiscoveryInterface: "0.0.0.0",
		DiscoveryPort:      2934,
		MeterPort:          29340,
		PingCheck:          true,
		BindAddress:        "0.0.0.0",
		BindPort:           9040,
		MySQL: MySQLConfig{
			Host: "localhost",
			Port: 3306,
		},
	}
}

// LoadCollectorConfig reads the collector TOML config, creating a default
// file on first run, then applies environment overrides.
func LoadCollectorConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "ct6_collector.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := defaultCollectorConfig()
		if err := WriteDefaultConfig(configPath); err != nil {
			// Config dir may not exist on dev machines; run on defaults.
			applyEnvOverrides(cfg)
			ActiveCollectorConfig = cfg
			return nil
		}
		applyEnvOverrides(cfg)
		ActiveCollectorConfig = cfg
		return nil
	}

	// Load existing config
	var config CollectorConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	applyEnvOverrides(&config)
	ActiveCollectorConfig = &config
	return nil
}

// WriteDefaultConfig writes a fresh default config file (--configure).
func WriteDefaultConfig(configPath string) error {
	if err := pathing.EnsureDir(filepath.Dir(configPath)); err != nil {
		return err
	}
	cfgFile, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer cfgFile.Close()
	return toml.NewEncoder(cfgFile).Encode(defaultCollectorConfig())
}

// DefaultConfigPath is where --configure writes.
func DefaultConfigPath() string {
	return filepath.Join(pathing.GetConfigDir(), "ct6_collector.toml")
}

func applyEnvOverrides(cfg *CollectorConfig) {
	if v := os.Getenv("CT6_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("CT6_DISCOVERY_INTERFACE"); v != "" {
		cfg.DiscoveryInterface = v
	}
	if v := os.Getenv("CT6_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("CT6_BIND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.BindPort = port
		}
	}
	if v := os.Getenv("CT6_ACCESS_LOG"); v != "" {
		cfg.AccessLogPath = v
	}
}
