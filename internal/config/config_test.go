package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scale.Address != "0C:95:41:CB:23:FF" {
		t.Errorf("Scale.Address = %q, want %q", cfg.Scale.Address, "0C:95:41:CB:23:FF")
	}
	if len(cfg.Scale.Names) != 3 {
		t.Errorf("Scale.Names length = %d, want 3", len(cfg.Scale.Names))
	}
	if cfg.Scale.AddressTimeout != 10*time.Second {
		t.Errorf("Scale.AddressTimeout = %v, want 10s", cfg.Scale.AddressTimeout)
	}
	if cfg.Scale.NameTimeout != 5*time.Second {
		t.Errorf("Scale.NameTimeout = %v, want 5s", cfg.Scale.NameTimeout)
	}
	if cfg.Scale.ImpedanceLimit != 3000 {
		t.Errorf("Scale.ImpedanceLimit = %d, want 3000", cfg.Scale.ImpedanceLimit)
	}
	if cfg.Report.URL != "http://localhost:8000/api" {
		t.Errorf("Report.URL = %q, want %q", cfg.Report.URL, "http://localhost:8000/api")
	}
	if cfg.Store.MaxRecords != 100 {
		t.Errorf("Store.MaxRecords = %d, want 100", cfg.Store.MaxRecords)
	}
	if cfg.Kafka.Enabled() {
		t.Error("Kafka should be disabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
scale:
  address: "AA:BB:CC:DD:EE:FF"
  names: ["MIBFS"]
  address_timeout: 3s
reconnect:
  max_delay: 1m
report:
  url: http://store.local:9000/api
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: scale
store:
  path: /tmp/m.json
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scale.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Scale.Address = %q, want %q", cfg.Scale.Address, "AA:BB:CC:DD:EE:FF")
	}
	if len(cfg.Scale.Names) != 1 || cfg.Scale.Names[0] != "MIBFS" {
		t.Errorf("Scale.Names = %v, want [MIBFS]", cfg.Scale.Names)
	}
	if cfg.Scale.AddressTimeout != 3*time.Second {
		t.Errorf("Scale.AddressTimeout = %v, want 3s", cfg.Scale.AddressTimeout)
	}
	// unset fields keep their defaults
	if cfg.Scale.NameTimeout != 5*time.Second {
		t.Errorf("Scale.NameTimeout = %v, want 5s", cfg.Scale.NameTimeout)
	}
	if cfg.Reconnect.MaxDelay != time.Minute {
		t.Errorf("Reconnect.MaxDelay = %v, want 1m", cfg.Reconnect.MaxDelay)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("Reconnect.BaseDelay = %v, want 1s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Report.URL != "http://store.local:9000/api" {
		t.Errorf("Report.URL = %q", cfg.Report.URL)
	}
	if !cfg.Kafka.Enabled() || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "scale" {
		t.Errorf("Kafka = %+v, want 2 brokers on topic scale", cfg.Kafka)
	}
	if cfg.Store.Path != "/tmp/m.json" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/tmp/m.json")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
store:
  path: ~/data/measurements.json
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "data/measurements.json")
	if cfg.Store.Path != expected {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scale: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "names only",
			modify:  func(c *Config) { c.Scale.Address = "" },
			wantErr: false,
		},
		{
			name: "no address and no names",
			modify: func(c *Config) {
				c.Scale.Address = ""
				c.Scale.Names = nil
			},
			wantErr: true,
		},
		{
			name:    "zero address timeout",
			modify:  func(c *Config) { c.Scale.AddressTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero name timeout",
			modify:  func(c *Config) { c.Scale.NameTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero impedance limit",
			modify:  func(c *Config) { c.Scale.ImpedanceLimit = 0 },
			wantErr: true,
		},
		{
			name:    "max delay below base delay",
			modify:  func(c *Config) { c.Reconnect.MaxDelay = c.Reconnect.BaseDelay / 2 },
			wantErr: true,
		},
		{
			name:    "report url without scheme",
			modify:  func(c *Config) { c.Report.URL = "localhost:8000" },
			wantErr: true,
		},
		{
			name:    "report url ftp",
			modify:  func(c *Config) { c.Report.URL = "ftp://store/api" },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.Report.QueueSize = 0 },
			wantErr: true,
		},
		{
			name: "kafka brokers without topic",
			modify: func(c *Config) {
				c.Kafka.Brokers = []string{"k:9092"}
				c.Kafka.Topic = ""
			},
			wantErr: true,
		},
		{
			name:    "empty store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "zero max records",
			modify:  func(c *Config) { c.Store.MaxRecords = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvAddress, "11:22:33:44:55:66")
	t.Setenv(EnvReportURL, "https://example.test/api")
	t.Setenv(EnvKafkaBrokers, "a:9092, b:9092,")
	t.Setenv(EnvKafkaTopic, "weights")
	t.Setenv(EnvStoreListen, "127.0.0.1:9999")
	t.Setenv(EnvLogLevel, "warn")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Scale.Address != "11:22:33:44:55:66" {
		t.Errorf("Scale.Address = %q", cfg.Scale.Address)
	}
	if cfg.Report.URL != "https://example.test/api" {
		t.Errorf("Report.URL = %q", cfg.Report.URL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "a:9092" || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("Kafka.Brokers = %v, want [a:9092 b:9092]", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "weights" {
		t.Errorf("Kafka.Topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Store.Listen != "127.0.0.1:9999" {
		t.Errorf("Store.Listen = %q", cfg.Store.Listen)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	// untouched
	if cfg.Store.Path != "measurements.json" {
		t.Errorf("Store.Path = %q, want default", cfg.Store.Path)
	}
}

func TestLoadDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "MISCALE_STORE_PATH=/var/lib/miscale/m.json\nMISCALE_KAFKA_TOPIC=from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	// registered with t.Setenv so the values are restored after the test
	t.Setenv(EnvStorePath, "")
	os.Unsetenv(EnvStorePath)
	t.Setenv(EnvKafkaTopic, "from-env")

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Store.Path != "/var/lib/miscale/m.json" {
		t.Errorf("Store.Path = %q, want value from .env", cfg.Store.Path)
	}
	if cfg.Kafka.Topic != "from-env" {
		t.Errorf("Kafka.Topic = %q, want existing environment to win", cfg.Kafka.Topic)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadDotEnv() on missing file error = %v, want nil", err)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "miscale-bridge", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# miscale-bridge") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Scale.AddressTimeout != 10*time.Second {
		t.Errorf("written config Scale.AddressTimeout = %v, want 10s", cfg.Scale.AddressTimeout)
	}
	if cfg.Store.MaxRecords != 100 {
		t.Errorf("written config Store.MaxRecords = %d, want 100", cfg.Store.MaxRecords)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "miscale-bridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveUsesDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv(EnvLogLevel, "debug")

	cfg, source, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if source != "" {
		t.Errorf("Resolve() source = %q, want empty", source)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want env override", cfg.LogLevel)
	}
}

func TestResolvePrefersDefaultPath(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Chdir(t.TempDir())

	written, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	_, source, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if source != written {
		t.Errorf("Resolve() source = %q, want %q", source, written)
	}
}

func TestResolveMissingExplicitPath(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, _, err := Resolve("/nonexistent/config.yaml"); err == nil {
		t.Error("Resolve() should fail for a missing explicit path")
	}
}
