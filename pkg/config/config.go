package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Transport backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Telemetry sink kinds.
const (
	SinkWriter = "writer"
	SinkHub    = "hub"
)

// SinkConfig selects where decoded samples go.
type SinkConfig struct {
	Kind   string `yaml:"kind" json:"kind" default:"writer"`
	Format string `yaml:"format" json:"format" default:"json"` // json, msgpack, cbor
	Path   string `yaml:"path" json:"path"`                    // empty means stdout
	Buffer int    `yaml:"buffer" json:"buffer" default:"64"`
}

// Config holds application configuration
type Config struct {
	LogLevel           logrus.Level  `yaml:"log_level" json:"log_level"`
	Backend            string        `yaml:"backend" json:"backend" default:"go-ble"`
	NamePrefix         string        `yaml:"name_prefix" json:"name_prefix" default:"mitch"`
	ScanTimeout        time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	TransportTimeout   time.Duration `yaml:"transport_timeout" json:"transport_timeout" default:"5s"`
	StopTimeout        time.Duration `yaml:"stop_timeout" json:"stop_timeout" default:"2s"`
	NotificationBuffer int           `yaml:"notification_buffer" json:"notification_buffer" default:"128"`
	Sink               SinkConfig    `yaml:"sink" json:"sink"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
// Unknown keys are rejected. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.NamePrefix = strings.ToLower(strings.TrimSpace(c.NamePrefix))
	c.Sink.Kind = strings.ToLower(strings.TrimSpace(c.Sink.Kind))
	c.Sink.Format = strings.ToLower(strings.TrimSpace(c.Sink.Format))
}

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend %q: must be %s or %s", c.Backend, BackendGoBLE, BackendTinyGo)
	}

	if c.NamePrefix == "" {
		return fmt.Errorf("name_prefix must not be empty")
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative")
	}
	if c.TransportTimeout <= 0 {
		return fmt.Errorf("transport_timeout must be positive")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}
	if c.NotificationBuffer <= 0 {
		return fmt.Errorf("notification_buffer must be positive")
	}

	switch c.Sink.Kind {
	case SinkWriter, SinkHub:
	default:
		return fmt.Errorf("sink.kind %q: must be %s or %s", c.Sink.Kind, SinkWriter, SinkHub)
	}
	switch c.Sink.Format {
	case "json", "msgpack", "cbor":
	default:
		return fmt.Errorf("sink.format %q: must be json, msgpack or cbor", c.Sink.Format)
	}
	if c.Sink.Buffer <= 0 {
		return fmt.Errorf("sink.buffer must be positive")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
