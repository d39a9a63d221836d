// Package config owns two related but distinct concerns: a typed
// bootstrap Config (log/master/agent/queue sections, decoded once at
// startup) and the generic, hot-reloadable Store (see store.go) that
// backs the agent's get<T>(table, key) lookup contract used by modules
// and centralized-configuration commands.
package config

import "time"

// Config is the typed bootstrap configuration decoded from the base YAML
// file at process start. Unlike Store's generic tree, this shape is fixed
// and known at compile time because the orchestrator needs these fields
// to exist before anything else can come up.
type Config struct {
	App    *AppConfig    `yaml:"app" mapstructure:"app"`
	Log    *LogConfig    `yaml:"log" mapstructure:"log"`
	Master *MasterConfig `yaml:"master" mapstructure:"master"`
	Agent  *AgentConfig  `yaml:"agent" mapstructure:"agent"`
	Queue  *QueueConfig  `yaml:"queue" mapstructure:"queue"`
}

// AppConfig carries process identity unrelated to any one subsystem.
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Version     string `yaml:"version" mapstructure:"version"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// LogConfig mirrors what internal/pkg/logger.Init expects.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	Output     string `yaml:"output" mapstructure:"output"`
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
	Caller     bool   `yaml:"caller" mapstructure:"caller"`
}

// MasterConfig is the manager endpoint the communicator talks to.
type MasterConfig struct {
	Host                  string        `yaml:"host" mapstructure:"host"`
	Port                  int           `yaml:"port" mapstructure:"port"`
	HTTPS                 bool          `yaml:"https" mapstructure:"https"`
	RetryInterval         time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	BatchingInterval      time.Duration `yaml:"batching_interval" mapstructure:"batching_interval"`
	PreExpiry             time.Duration `yaml:"pre_expiry" mapstructure:"pre_expiry"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
	CommandTimeout        time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
	MaxBatchBytes         int           `yaml:"max_batch_bytes" mapstructure:"max_batch_bytes"`
}

// AgentConfig seeds this install's identity and on-disk state.
type AgentConfig struct {
	UUID        string   `yaml:"uuid" mapstructure:"uuid"`
	Key         string   `yaml:"key" mapstructure:"key"`
	Groups      []string `yaml:"groups" mapstructure:"groups"`
	ConfigPath  string   `yaml:"config_path" mapstructure:"config_path"`
	SharedDir   string   `yaml:"shared_dir" mapstructure:"shared_dir"`
	StateDir    string   `yaml:"state_dir" mapstructure:"state_dir"`
}

// QueueConfig locates the persistent queue's backing file and, optionally,
// a Redis instance mirroring per-type pushed/popped counters for external
// dashboards. MetricsAddr is empty by default: the mirror is disabled
// unless an address is configured.
type QueueConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	MetricsDB   int    `yaml:"metrics_db" mapstructure:"metrics_db"`
}

// Default returns a Config populated with the defaults the loader falls
// back to when the file or a section within it is absent.
func Default() *Config {
	return &Config{
		App: &AppConfig{Name: "endpoint-agent", Version: "0.1.0", Environment: "production"},
		Log: &LogConfig{Level: "info", Format: "text", Output: "stdout", Caller: false},
		Master: &MasterConfig{
			Host:                 "127.0.0.1",
			Port:                 27000,
			HTTPS:                false,
			RetryInterval:        5 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			BatchingInterval:     5 * time.Second,
			PreExpiry:            2 * time.Second,
			MaxReconnectAttempts: 10,
			CommandTimeout:       60 * time.Second,
			MaxBatchBytes:        1 << 20,
		},
		Agent: &AgentConfig{
			ConfigPath: "/etc/endpoint-agent/agent.yml",
			SharedDir:  "/etc/endpoint-agent/shared",
			StateDir:   "/var/lib/endpoint-agent",
		},
		Queue: &QueueConfig{Path: "/var/lib/endpoint-agent/queue.db"},
	}
}
