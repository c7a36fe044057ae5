// Package config provides configuration management for ovpnctl.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpnctl/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ManagementHost is the address OpenVPN's management interface binds to.
	ManagementHost string `yaml:"management_host"`
	// ManagementPort is the TCP port of the management interface.
	ManagementPort int `yaml:"management_port"`
	// ElevationCommand runs OpenVPN with elevated privileges.
	ElevationCommand string `yaml:"elevation_command"`
	// OpenVPNBinary is the OpenVPN executable name or path.
	OpenVPNBinary string `yaml:"openvpn_binary"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// HistoryEnabled records connection sessions to the local history database.
	HistoryEnabled bool `yaml:"history_enabled"`
	// LogLevel sets the minimum log level: "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ManagementHost:    common.ManagementHost,
		ManagementPort:    common.ManagementPort,
		ElevationCommand:  common.DefaultElevationCommand,
		OpenVPNBinary:     common.DefaultOpenVPNBinary,
		ShowNotifications: true,
		HistoryEnabled:    true,
		LogLevel:          "info",
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := defaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from the given path, creating the file
// with defaults when it does not exist yet.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, common.WrapError(err, "error opening configuration")
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}

	config.validate()
	return &config, nil
}

// validate replaces out-of-range values with their defaults.
func (c *Config) validate() {
	defaults := DefaultConfig()
	if c.ManagementHost == "" {
		c.ManagementHost = defaults.ManagementHost
	}
	if c.ManagementPort <= 0 || c.ManagementPort > 65535 {
		c.ManagementPort = defaults.ManagementPort
	}
	if c.ElevationCommand == "" {
		c.ElevationCommand = defaults.ElevationCommand
	}
	if c.OpenVPNBinary == "" {
		c.OpenVPNBinary = defaults.OpenVPNBinary
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaults.LogLevel
	}
}

// Save saves the configuration to the default config file.
func (c *Config) Save() error {
	configPath, err := defaultPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to the given path.
func (c *Config) SaveTo(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return common.WrapError(err, "error creating config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// LoggerLevel maps the configured level name to a logger level.
func (c *Config) LoggerLevel() common.LogLevel {
	switch c.LogLevel {
	case "debug":
		return common.LevelDebug
	case "warn":
		return common.LevelWarn
	case "error":
		return common.LevelError
	default:
		return common.LevelInfo
	}
}

func defaultPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}
