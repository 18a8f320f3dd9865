package config

type CollectorConfig struct {
	// Directory holding the per-device store files.
	StorageDir string `toml:"storage_dir"`

	// Local interface address the discovery probe broadcasts from,
	// e.g. 0.0.0.0 to let the OS pick.
	DiscoveryInterface string `toml:"discovery_interface"`
	DiscoveryPort      int    `toml:"discovery_port"`

	// TCP port the meters push line-delimited JSON readings on.
	MeterPort int `toml:"meter_port"`

	// Gate each session dial behind an ICMP reachability check.
	PingCheck bool `toml:"ping_check"`

	// Read-only web surface. Empty bind address disables it.
	BindAddress   string `toml:"bind_address"`
	BindPort      int    `toml:"bind_port"`
	RequireLogin  bool   `toml:"require_login"`
	AccessLogPath string `toml:"access_log_path"`

	// One-shot legacy relational import (--conv_dbs). Optional;
	// empty values are acceptable when the importer is never used.
	MySQL MySQLConfig `toml:"mysql"`
}

type MySQLConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}
