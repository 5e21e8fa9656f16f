// Package config loads and validates the geoalarm YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// HAURL is the base URL of the Home Assistant instance (e.g. "http://homeassistant.local:8123").
	HAURL string `yaml:"ha_url"`

	// HAToken is the long-lived access token used to authenticate with Home Assistant.
	HAToken string `yaml:"ha_token"`

	// Entities names the HA entities the daemon reads sensors from.
	Entities EntitiesConfig `yaml:"entities"`

	// NotifyService is the HA notify service alarms are delivered through,
	// without the "notify." prefix (e.g. "mobile_app_phone").
	NotifyService string `yaml:"notify_service"`

	// PollInterval controls how often conditions are re-evaluated when no
	// push signal arrives. Minimum 15s, maximum 15m. Defaults to 1m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SnoozeMinutes is how long a snoozed alarm sleeps before re-presenting.
	// Defaults to 9 minutes if unset.
	SnoozeMinutes int `yaml:"snooze_minutes"`

	// DBPath overrides the SQLite database location.
	// Defaults to ~/.local/share/geoalarm/geoalarm.db.
	DBPath string `yaml:"db_path,omitempty"`

	// ImportLists names the Apple Reminders lists read by "geoalarm import".
	// Example: ["Errands", "Work"]
	ImportLists []string `yaml:"import_lists,omitempty"`

	// MQTT configures optional alarm-event publishing to an MQTT broker.
	// Omit the block entirely to disable publishing.
	MQTT *MQTTConfig `yaml:"mqtt,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// EntitiesConfig names the Home Assistant entities used as sensor sources.
type EntitiesConfig struct {
	// Tracker is the device_tracker or person entity carrying GPS attributes.
	Tracker string `yaml:"tracker"`

	// BatteryLevel is the sensor reporting the battery percentage. Optional;
	// reminders with battery conditions never fire without it.
	BatteryLevel string `yaml:"battery_level,omitempty"`

	// BatteryState optionally reports "charging" / "discharging" / "full".
	BatteryState string `yaml:"battery_state,omitempty"`

	// LowPower optionally is a binary_sensor for the OS low-power mode.
	LowPower string `yaml:"low_power,omitempty"`

	// Action optionally is an input_text entity HA automations write
	// notification action taps into, as "<action>:<session-id>".
	Action string `yaml:"action,omitempty"`
}

// MQTTConfig holds optional MQTT publishing settings.
type MQTTConfig struct {
	// Broker is the MQTT broker URL (e.g. "tcp://mosquitto.local:1883").
	Broker string `yaml:"broker"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "geoalarm".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/geoalarm/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "geoalarm", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.HAURL == "" {
		return fmt.Errorf("ha_url is required")
	}
	u, err := url.ParseRequestURI(c.HAURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("ha_url %q must be a valid http or https URL", c.HAURL)
	}

	if c.HAToken == "" {
		return fmt.Errorf("ha_token is required")
	}

	if c.Entities.Tracker == "" {
		return fmt.Errorf("entities.tracker is required")
	}

	if c.NotifyService == "" {
		return fmt.Errorf("notify_service is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = time.Minute
	}
	if c.PollInterval < 15*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 15s)", c.PollInterval)
	}
	if c.PollInterval > 15*time.Minute {
		return fmt.Errorf("poll_interval %v is too long (maximum 15m)", c.PollInterval)
	}

	if c.SnoozeMinutes == 0 {
		c.SnoozeMinutes = 9
	}
	if c.SnoozeMinutes < 1 || c.SnoozeMinutes > 120 {
		return fmt.Errorf("snooze_minutes %d is out of range (1 to 120)", c.SnoozeMinutes)
	}

	for i, list := range c.ImportLists {
		if list == "" {
			return fmt.Errorf("import_lists[%d] is empty", i)
		}
	}

	if c.MQTT != nil {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is configured")
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
