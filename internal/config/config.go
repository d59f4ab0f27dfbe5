// Package config loads runtime configuration for the sync client. Settings
// come from a config file (./picpic-sync.yaml or ~/.picpic-sync/config.yaml),
// with PICSYNC_-prefixed environment variables overriding file values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Required top-level keys. The health monitor reports any of these that
// resolve to an empty value, in this order.
var RequiredKeys = []string{
	"server_url",
	"push_url",
	"work_dir",
	"output_paths",
}

type Config struct {
	// ServerURL is the companion request/response endpoint (health, tools).
	ServerURL string `mapstructure:"server_url"`
	// PushURL is the WebSocket push channel.
	PushURL string `mapstructure:"push_url"`

	// WorkDir is the client's scratch directory; probed by the health
	// monitor and remediable in fix mode.
	WorkDir string `mapstructure:"work_dir"`

	// OutputPaths maps artifact kinds to their output directories. Every
	// entry must be creatable; the critical ones must be writable.
	OutputPaths map[string]string `mapstructure:"output_paths"`

	StatusPort int `mapstructure:"status_port"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "text"

	// Event mirrors; empty disables the mirror.
	RedisURL   string `mapstructure:"redis_url"`
	MQTTBroker string `mapstructure:"mqtt_broker"`

	// Tracing
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`

	// Push channel tuning.
	HeartbeatSeconds     int `mapstructure:"heartbeat_seconds"`
	ReconnectBaseMillis  int `mapstructure:"reconnect_base_millis"`
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`

	v *viper.Viper
}

// CriticalOutputKinds is the fixed list of artifact kinds whose output path
// must be writable, in declared order.
var CriticalOutputKinds = []string{"renders", "assets", "reports"}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:3333")
	v.SetDefault("push_url", "ws://localhost:3333/ws")
	v.SetDefault("work_dir", ".picpic-sync")
	v.SetDefault("output_paths", map[string]string{
		"renders": ".picpic-sync/renders",
		"assets":  ".picpic-sync/assets",
		"reports": ".picpic-sync/reports",
	})
	v.SetDefault("status_port", 8090)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("redis_url", "")
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "picpic-sync")
	v.SetDefault("heartbeat_seconds", 30)
	v.SetDefault("reconnect_base_millis", 1000)
	v.SetDefault("max_reconnect_attempts", 10)

	v.SetConfigName("picpic-sync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.picpic-sync")
	v.SetEnvPrefix("PICSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// MissingKeys returns the required keys whose effective value is empty,
// preserving the declared order.
func (c *Config) MissingKeys() []string {
	var missing []string
	for _, key := range RequiredKeys {
		switch key {
		case "server_url":
			if c.ServerURL == "" {
				missing = append(missing, key)
			}
		case "push_url":
			if c.PushURL == "" {
				missing = append(missing, key)
			}
		case "work_dir":
			if c.WorkDir == "" {
				missing = append(missing, key)
			}
		case "output_paths":
			if len(c.OutputPaths) == 0 {
				missing = append(missing, key)
			}
		}
	}
	return missing
}

// CriticalPaths resolves the fixed critical output kinds to their
// configured directories, skipping kinds with no configured path.
func (c *Config) CriticalPaths() []string {
	var paths []string
	for _, kind := range CriticalOutputKinds {
		if p, ok := c.OutputPaths[kind]; ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// HeartbeatInterval returns the configured heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ReconnectBase returns the configured backoff base interval.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMillis) * time.Millisecond
}
