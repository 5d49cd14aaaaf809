package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig   `yaml:"bridge"`
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	Capture         CaptureConfig  `yaml:"capture"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	API             APIConfig      `yaml:"api"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BridgeConfig contains wifi bridge connection settings
type BridgeConfig struct {
	Address      string   `yaml:"address"`
	Port         int      `yaml:"port"`
	LocalAddress string   `yaml:"local_address"`      // Bind address for outgoing datagrams (default: 0.0.0.0)
	LocalPort    int      `yaml:"local_port"`         // Source port (default: 8899)
	MinInterval  Duration `yaml:"min_interval"`       // Spacing between commands (default: 100ms)
	SameSecond   bool     `yaml:"same_second_window"` // Legacy: only throttle within one wall-clock second
}

// UDPAddr resolves the bridge destination.
func (c *BridgeConfig) UDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid bridge IPv4 address %q", c.Address)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("invalid bridge port %d", c.Port)
	}
	return &net.UDPAddr{IP: ip.To4(), Port: c.Port}, nil
}

// LocalUDPAddr resolves the bind address for outgoing datagrams.
func (c *BridgeConfig) LocalUDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.LocalAddress)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid local IPv4 address %q", c.LocalAddress)
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return nil, fmt.Errorf("invalid local port %d", c.LocalPort)
	}
	return &net.UDPAddr{IP: ip.To4(), Port: c.LocalPort}, nil
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string        `yaml:"level"`
	UseJSON bool          `yaml:"json"`
	Colors  bool          `yaml:"colors"`
	File    LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotating log file next to stderr output
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings. An empty path disables the command ledger.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays *int   `yaml:"retention_days"` // 0 keeps entries forever (default: 30)
}

// Retention returns how long ledger entries are kept; zero means forever.
func (c *DatabaseConfig) Retention() time.Duration {
	if c.RetentionDays == nil || *c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(*c.RetentionDays) * 24 * time.Hour
}

// CaptureConfig enables writing every sent datagram to a pcap file
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT command subscription settings
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"`
	QoS         byte     `yaml:"qos"`
	Timeout     Duration `yaml:"timeout"` // Connect/subscribe/publish timeout
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"` // When set, non-health endpoints require an HS256 bearer token
}

// Addr returns the listen address
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with all defaults applied, for runs without a config file
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File.MaxSizeMB == 0 {
		cfg.Log.File.MaxSizeMB = 10
	}
	if cfg.Log.File.MaxBackups == 0 {
		cfg.Log.File.MaxBackups = 3
	}

	// Bridge defaults
	if cfg.Bridge.Address == "" {
		cfg.Bridge.Address = "127.0.0.1"
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 8899
	}
	if cfg.Bridge.LocalAddress == "" {
		cfg.Bridge.LocalAddress = "0.0.0.0"
	}
	if cfg.Bridge.LocalPort == 0 {
		cfg.Bridge.LocalPort = 8899
	}
	if cfg.Bridge.MinInterval == 0 {
		cfg.Bridge.MinInterval = Duration(100 * time.Millisecond)
	}

	// Ledger retention
	if cfg.Database.RetentionDays == nil {
		days := 30
		cfg.Database.RetentionDays = &days
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "milight"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "milight"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
