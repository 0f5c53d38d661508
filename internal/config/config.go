package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AggregatorConfig holds the configuration for the flow aggregator.
type AggregatorConfig struct {
	FlushInterval       string `yaml:"flush_interval"` // default 30s
	StaleWindow         string `yaml:"stale_window"`   // default 5m
	NumWorkers          int    `yaml:"num_workers"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
}

// FlushIntervalDuration parses the flush interval, applying the default.
func (c AggregatorConfig) FlushIntervalDuration() (time.Duration, error) {
	return parseDuration(c.FlushInterval, 30*time.Second)
}

// StaleWindowDuration parses the stale window, applying the default.
func (c AggregatorConfig) StaleWindowDuration() (time.Duration, error) {
	return parseDuration(c.StaleWindow, 5*time.Minute)
}

// ProbeConfig holds the NATS transport settings for packet events.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds connection settings for the ClickHouse store.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	// Type is "clickhouse" or "memory".
	Type       string           `yaml:"type"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// GeoConfig configures the geolocation resolver.
type GeoConfig struct {
	// Path to a GeoLite2-City database. Empty disables lookups: every
	// public address resolves to the Unknown sentinel.
	DatabasePath string `yaml:"database_path"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	// ScanInterval drives the periodic device scan / baseline refresh.
	ScanInterval string `yaml:"scan_interval"` // default 5m
	// ShutdownTimeout bounds how long Stop waits for background loops.
	ShutdownTimeout string `yaml:"shutdown_timeout"` // default 10s
}

// ScanIntervalDuration parses the scan interval, applying the default.
func (c EngineConfig) ScanIntervalDuration() (time.Duration, error) {
	return parseDuration(c.ScanInterval, 5*time.Minute)
}

// ShutdownTimeoutDuration parses the shutdown timeout, applying the default.
func (c EngineConfig) ShutdownTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.ShutdownTimeout, 10*time.Second)
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Probe      ProbeConfig      `yaml:"probe"`
	Storage    StorageConfig    `yaml:"storage"`
	Geo        GeoConfig        `yaml:"geo"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Engine     EngineConfig     `yaml:"engine"`
	API        APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return &cfg, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}
