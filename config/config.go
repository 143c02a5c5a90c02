// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the daemon configuration.
type Config struct {
	// MonitorPort is the port the WebSocket monitor feed listens on.
	MonitorPort int `yaml:"monitor_port"`

	// Zeroconf enables mDNS advertisement of the monitor endpoint.
	Zeroconf bool `yaml:"zeroconf"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`

	// PresenceCheckPeriod overrides the presence probe interval.
	PresenceCheckPeriod Duration `yaml:"presence_check_period"`

	// CEReactivationTimeout overrides the card-emulation reactivation
	// deadline.
	CEReactivationTimeout Duration `yaml:"ce_reactivation_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MonitorPort: 9480,
		Zeroconf:    true,
		LogLevel:    "info",
	}
}

// Load reads a YAML configuration file, applying defaults for unset fields.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.MonitorPort <= 0 || cfg.MonitorPort > 65535 {
		return cfg, fmt.Errorf("config %s: invalid monitor_port %d", path, cfg.MonitorPort)
	}
	return cfg, nil
}
