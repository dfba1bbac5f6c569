package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the BMaC node agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Storage   StorageConfig   `yaml:"storage"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	OTA       OTAConfig       `yaml:"ota"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig contains node identity settings.
type NodeConfig struct {
	// Interface is the network interface whose MAC becomes the fingerprint.
	Interface string `yaml:"interface"`

	// DataDir is the root for node state (storage files, banks).
	DataDir string `yaml:"data_dir"`
}

// StorageConfig selects the non-volatile store backend.
type StorageConfig struct {
	// Backend is "file" (one file per blob) or "sqlite" (blob table).
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// WiFiConfig contains station association settings.
type WiFiConfig struct {
	// PollInterval is how often the interface is checked for an address (seconds).
	PollInterval int              `yaml:"poll_interval"`
	Supplicant   SupplicantConfig `yaml:"supplicant"`
}

// SupplicantConfig controls an optional managed wpa_supplicant.
type SupplicantConfig struct {
	// Managed indicates whether the node should run wpa_supplicant itself.
	// If false, association is expected to be handled by the OS.
	Managed      bool   `yaml:"managed"`
	Binary       string `yaml:"binary"`
	ConfigPath   string `yaml:"config_path"`
	RestartDelay int    `yaml:"restart_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Prefix is prepended to every BMaC topic (e.g. "bmac/"). May be empty.
	Prefix string           `yaml:"prefix"`
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// ReconnectDelay is the fixed delay before retrying after a disconnect (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`
}

// MQTTBrokerConfig contains static broker details, used when discovery is disabled.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DiscoveryConfig contains broker discovery settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Filter  string `yaml:"filter"`

	// WindowMS is the fixed response collection window in milliseconds.
	WindowMS int `yaml:"window_ms"`

	// BroadcastAddress is where queries are sent.
	BroadcastAddress string `yaml:"broadcast_address"`
}

// OTAConfig contains firmware update settings.
type OTAConfig struct {
	// BaseURL is used until a retained cc/ota_url message overrides it.
	BaseURL      string `yaml:"base_url"`
	BanksDir     string `yaml:"banks_dir"`
	HTTPTimeout  int    `yaml:"http_timeout"`
	MaxImageSize int64  `yaml:"max_image_size"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// MirrorLevel is the minimum level forwarded to remote sinks (log topic, InfluxDB).
	MirrorLevel string `yaml:"mirror_level"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BMAC_SECTION_KEY
// For example: BMAC_STORAGE_PATH, BMAC_MQTT_PREFIX
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Interface: "wlan0",
			DataDir:   "./data",
		},
		Storage: StorageConfig{
			Backend:     "file",
			Path:        "./data/spiffs",
			WALMode:     true,
			BusyTimeout: 5,
		},
		WiFi: WiFiConfig{
			PollInterval: 2,
			Supplicant: SupplicantConfig{
				Binary:       "/usr/sbin/wpa_supplicant",
				ConfigPath:   "./data/wpa_supplicant.conf",
				RestartDelay: 5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:            1,
			ReconnectDelay: 2,
		},
		Discovery: DiscoveryConfig{
			Enabled:          true,
			Port:             11310,
			Filter:           "mqtt",
			WindowMS:         500,
			BroadcastAddress: "255.255.255.255",
		},
		OTA: OTAConfig{
			BanksDir:     "./data/banks",
			HTTPTimeout:  120,
			MaxImageSize: 16 << 20,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			MirrorLevel: "debug",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BMAC_NODE_INTERFACE"); v != "" {
		cfg.Node.Interface = v
	}
	if v := os.Getenv("BMAC_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("BMAC_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// MQTT
	if v := os.Getenv("BMAC_MQTT_PREFIX"); v != "" {
		cfg.MQTT.Prefix = v
	}
	if v := os.Getenv("BMAC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BMAC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BMAC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BMAC_DISCOVERY_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Discovery.Enabled = enabled
		}
	}

	if v := os.Getenv("BMAC_OTA_BASE_URL"); v != "" {
		cfg.OTA.BaseURL = v
	}

	if v := os.Getenv("BMAC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Interface == "" {
		errs = append(errs, "node.interface is required")
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, "storage.backend must be \"file\" or \"sqlite\"")
	}
	if c.Storage.Path == "" {
		errs = append(errs, "storage.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ReconnectDelay < 1 {
		errs = append(errs, "mqtt.reconnect_delay must be at least 1 second")
	}
	if c.MQTT.Prefix != "" && !strings.HasSuffix(c.MQTT.Prefix, "/") {
		errs = append(errs, "mqtt.prefix must end with \"/\"")
	}

	if c.Discovery.Enabled {
		if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
			errs = append(errs, "discovery.port must be between 1 and 65535")
		}
		if c.Discovery.WindowMS < 1 {
			errs = append(errs, "discovery.window_ms must be positive")
		}
		if c.Discovery.Filter == "" {
			errs = append(errs, "discovery.filter is required")
		}
	} else if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535 when discovery is disabled")
	}

	if c.OTA.BanksDir == "" {
		errs = append(errs, "ota.banks_dir is required")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReconnectDelay returns the MQTT reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelay) * time.Second
}

// GetDiscoveryWindow returns the discovery collection window as a Duration.
func (c *Config) GetDiscoveryWindow() time.Duration {
	return time.Duration(c.Discovery.WindowMS) * time.Millisecond
}

// GetHTTPTimeout returns the OTA download timeout as a Duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.OTA.HTTPTimeout) * time.Second
}

// GetPollInterval returns the WiFi interface poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.WiFi.PollInterval) * time.Second
}
