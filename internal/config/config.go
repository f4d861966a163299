package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Transport string         `yaml:"transport"` // "ble" or "serial"
	ClientID  string         `yaml:"client_id"`
	BLE       BLEConfig      `yaml:"ble"`
	Serial    SerialConfig   `yaml:"serial"`
	Delivery  DeliveryConfig `yaml:"delivery"`
	// BatteryPollSecs > 0 enables periodic battery polling.
	BatteryPollSecs int    `yaml:"battery_poll_secs"`
	RequestTimeout  int    `yaml:"request_timeout_secs"`
	LogLevel        string `yaml:"log_level"`
}

// BLEConfig holds Bluetooth transport settings.
type BLEConfig struct {
	// Address pins the radio to a known MAC/UUID; empty means scan.
	Address string `yaml:"address"`
	// NamePrefix selects a radio by advertised name during scanning.
	NamePrefix string `yaml:"name_prefix"`
}

// SerialConfig holds serial transport settings.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// DeliveryConfig holds the message retry policy.
type DeliveryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	FloodAfter       int `yaml:"flood_after"`
	MaxFloodAttempts int `yaml:"max_flood_attempts"`
	MinTimeoutSecs   int `yaml:"min_timeout_secs"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "meshlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Transport: "ble",
		ClientID:  "mlink",
		BLE: BLEConfig{
			NamePrefix: "MeshCore",
		},
		Serial: SerialConfig{
			BaudRate: 115200,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:      4,
			FloodAfter:       2,
			MaxFloodAttempts: 2,
			MinTimeoutSecs:   5,
		},
		BatteryPollSecs: 60,
		RequestTimeout:  5,
		LogLevel:        "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ble":
		if c.BLE.Address == "" && c.BLE.NamePrefix == "" {
			return fmt.Errorf("ble.address or ble.name_prefix must be set")
		}
	case "serial":
		if c.Serial.Port == "" {
			return fmt.Errorf("serial.port must not be empty")
		}
		if c.Serial.BaudRate <= 0 {
			return fmt.Errorf("serial.baud_rate must be > 0")
		}
	default:
		return fmt.Errorf("transport must be \"ble\" or \"serial\", got %q", c.Transport)
	}

	if c.ClientID == "" {
		return fmt.Errorf("client_id must not be empty")
	}

	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be > 0")
	}
	if c.Delivery.FloodAfter < 0 || c.Delivery.FloodAfter > c.Delivery.MaxAttempts {
		return fmt.Errorf("delivery.flood_after must be between 0 and max_attempts")
	}
	if c.Delivery.MaxFloodAttempts < 0 {
		return fmt.Errorf("delivery.max_flood_attempts must be >= 0")
	}
	if c.Delivery.MinTimeoutSecs <= 0 {
		return fmt.Errorf("delivery.min_timeout_secs must be > 0")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout_secs must be > 0")
	}

	if c.BatteryPollSecs < 0 {
		return fmt.Errorf("battery_poll_secs must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values default to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes a commented default config to the default path if no
// file exists there yet. It returns the written path, or "" when a config
// already exists.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine config directory")
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := append([]byte("# meshlink configuration\n"), data...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
