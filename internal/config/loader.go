package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"endpointagent/internal/apperr"
)

// Loader decodes the typed bootstrap Config from built-in defaults, a YAML
// file and environment variables (prefixed ENDPOINTAGENT_), in that
// increasing order of precedence. Each Load call uses its own viper
// instance so repeated loads never see stale bindings from a prior one.
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader builds a Loader rooted at path. An empty path is valid: Load
// then returns Default() overlaid only by environment variables.
func NewLoader(path string) *Loader {
	return &Loader{path: path, envPrefix: "ENDPOINTAGENT"}
}

// Load decodes the Config.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(l.envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Default()
	setDefaults(v, cfg)

	if l.path != "" {
		if _, err := os.Stat(l.path); err == nil {
			v.SetConfigFile(l.path)
			if err := v.ReadInConfig(); err != nil {
				return nil, apperr.NewConfigError("read "+l.path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, apperr.NewConfigError("stat "+l.path, err)
		}
	}

	out := Default()
	if err := v.Unmarshal(out); err != nil {
		return nil, apperr.NewConfigError("unmarshal", err)
	}
	if out.Agent != nil && out.Agent.ConfigPath == "" && l.path != "" {
		out.Agent.ConfigPath = l.path
	}
	return out, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app.name", cfg.App.Name)
	v.SetDefault("app.version", cfg.App.Version)
	v.SetDefault("app.environment", cfg.App.Environment)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("master.host", cfg.Master.Host)
	v.SetDefault("master.port", cfg.Master.Port)
	v.SetDefault("master.https", cfg.Master.HTTPS)
	v.SetDefault("master.retry_interval", cfg.Master.RetryInterval)
	v.SetDefault("master.heartbeat_interval", cfg.Master.HeartbeatInterval)
	v.SetDefault("master.batching_interval", cfg.Master.BatchingInterval)
	v.SetDefault("master.pre_expiry", cfg.Master.PreExpiry)
	v.SetDefault("master.max_reconnect_attempts", cfg.Master.MaxReconnectAttempts)
	v.SetDefault("master.command_timeout", cfg.Master.CommandTimeout)
	v.SetDefault("master.max_batch_bytes", cfg.Master.MaxBatchBytes)
	v.SetDefault("agent.shared_dir", cfg.Agent.SharedDir)
	v.SetDefault("agent.state_dir", cfg.Agent.StateDir)
	v.SetDefault("queue.path", cfg.Queue.Path)
}

// ResolveConfigPath returns the default config path: under /etc on POSIX,
// overridden by %ProgramData% on Windows.
func ResolveConfigPath() string {
	if pd := os.Getenv("ProgramData"); pd != "" {
		return filepath.Join(pd, "endpoint-agent", "config", "endpoint-agent.yml")
	}
	return "/etc/endpoint-agent/endpoint-agent.yml"
}
