package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Scale     ScaleConfig     `yaml:"scale"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Report    ReportConfig    `yaml:"report"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Store     StoreConfig     `yaml:"store"`
	LogLevel  string          `yaml:"log_level"`
}

// ScaleConfig identifies the scale and bounds discovery.
type ScaleConfig struct {
	Address        string        `yaml:"address"`
	Names          []string      `yaml:"names"`
	AddressTimeout time.Duration `yaml:"address_timeout"`
	NameTimeout    time.Duration `yaml:"name_timeout"`
	ImpedanceLimit int           `yaml:"impedance_limit"` // ohms, exclusive
}

// ReconnectConfig holds the backoff applied after failed sessions.
type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Jitter    bool          `yaml:"jitter"`
}

// ReportConfig points the bridge at the measurement store.
type ReportConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
}

// KafkaConfig enables publishing to Kafka when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StoreConfig holds the measurement store server settings.
type StoreConfig struct {
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	MaxRecords int    `yaml:"max_records"`
	Prefix     string `yaml:"prefix"`
}

// Enabled reports whether Kafka publishing is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "miscale-bridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Scale: ScaleConfig{
			Address:        "0C:95:41:CB:23:FF",
			Names:          []string{"MIBCS", "MIBFS", "MI_SCALE"},
			AddressTimeout: 10 * time.Second,
			NameTimeout:    5 * time.Second,
			ImpedanceLimit: 3000,
		},
		Reconnect: ReconnectConfig{
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
			Jitter:    true,
		},
		Report: ReportConfig{
			URL:       "http://localhost:8000/api",
			Timeout:   5 * time.Second,
			QueueSize: 16,
		},
		Kafka: KafkaConfig{
			Topic: "scale-measurements",
		},
		Store: StoreConfig{
			Listen:     "0.0.0.0:8000",
			Path:       "measurements.json",
			MaxRecords: 100,
			Prefix:     "/api",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// Resolve loads the config at path, or the default config path if it
// exists, or the built-in defaults. A .env file in the working directory and
// MISCALE_* variables are applied on top. It returns the file that was read,
// or "" when defaults were used.
func Resolve(path string) (*Config, string, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath()); err == nil {
			path = DefaultConfigPath()
		}
	}

	cfg := Default()
	if path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, path, nil
}

// Environment variables that override file values.
const (
	EnvAddress      = "MISCALE_ADDRESS"
	EnvReportURL    = "MISCALE_REPORT_URL"
	EnvKafkaBrokers = "MISCALE_KAFKA_BROKERS" // comma-separated
	EnvKafkaTopic   = "MISCALE_KAFKA_TOPIC"
	EnvStorePath    = "MISCALE_STORE_PATH"
	EnvStoreListen  = "MISCALE_STORE_LISTEN"
	EnvLogLevel     = "MISCALE_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from envFile into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides config values from MISCALE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAddress); v != "" {
		c.Scale.Address = v
	}
	if v := os.Getenv(EnvReportURL); v != "" {
		c.Report.URL = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
	}
	if v := os.Getenv(EnvKafkaTopic); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = expandTilde(v)
	}
	if v := os.Getenv(EnvStoreListen); v != "" {
		c.Store.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Scale.Address == "" && len(c.Scale.Names) == 0 {
		return fmt.Errorf("scale.address or scale.names must be set")
	}
	if c.Scale.AddressTimeout <= 0 {
		return fmt.Errorf("scale.address_timeout must be > 0")
	}
	if c.Scale.NameTimeout <= 0 {
		return fmt.Errorf("scale.name_timeout must be > 0")
	}
	if c.Scale.ImpedanceLimit <= 0 {
		return fmt.Errorf("scale.impedance_limit must be > 0")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= reconnect.base_delay")
	}

	u, err := url.Parse(c.Report.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("report.url must be an http(s) URL, got %q", c.Report.URL)
	}
	if c.Report.Timeout <= 0 {
		return fmt.Errorf("report.timeout must be > 0")
	}
	if c.Report.QueueSize <= 0 {
		return fmt.Errorf("report.queue_size must be > 0")
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic must not be empty when kafka.brokers is set")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.Listen == "" {
		return fmt.Errorf("store.listen must not be empty")
	}
	if c.Store.MaxRecords <= 0 {
		return fmt.Errorf("store.max_records must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SlogLevel returns the slog.Level for LogLevel.
func (c *Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

const defaultConfigHeader = `# miscale-bridge configuration
# Durations use Go syntax (10s, 1m). Environment variables MISCALE_* override
# these values; a .env file in the working directory is read first.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultConfigHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
