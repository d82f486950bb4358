// Package config loads the YAML configuration for a telepathy session,
// grounded on ghalamif-AegisFlow/internal/app/config/config.go's
// Load/applyDefaults/validate shape: one nested struct per adapter, each
// getting its own defaults and validation step.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a complete session description: how to reach the target, how
// to resolve its symbols, how to acquire DAQ data, and where to send it.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Connect   ConnectConfig   `yaml:"connect"`
	Symbols   SymbolsConfig   `yaml:"symbols"`
	Daq       DaqConfig       `yaml:"daq"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

// TransportConfig selects and configures the link to the target.
type TransportConfig struct {
	Kind            string        `yaml:"kind"` // "tcp" or "serial"
	Address         string        `yaml:"address"`
	Port            string        `yaml:"port"`
	BaudRate        uint          `yaml:"baud_rate"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// ConnectConfig carries the CONNECT command's mode byte.
type ConnectConfig struct {
	Mode byte `yaml:"mode"`
}

// SymbolsConfig selects how the symbol table is built: from a debug-info
// image, or from a model-map root symbol name resolved through that image.
type SymbolsConfig struct {
	ImagePath        string `yaml:"image_path"`
	ModelMapRoot     string `yaml:"model_map_root"`
	AddressExtension byte   `yaml:"address_extension"`
}

// DaqConfig sizes the consumer queue and picks its overflow behaviour.
type DaqConfig struct {
	QueueCapacity    int    `yaml:"queue_capacity"`
	OverflowPolicy   string `yaml:"overflow_policy"` // "drop_oldest" or "block"
	AddressExtension byte   `yaml:"address_extension"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TimescaleConfig is optional; an empty ConnString means no TimescaleDB
// consumer is wired up.
type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// Load reads path, applies defaults, validates, and returns the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = "tcp"
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = 115200
	}
	if c.Transport.ResponseTimeout == 0 {
		c.Transport.ResponseTimeout = 500 * time.Millisecond
	}
	if c.Daq.QueueCapacity == 0 {
		c.Daq.QueueCapacity = 1024
	}
	if c.Daq.OverflowPolicy == "" {
		c.Daq.OverflowPolicy = "drop_oldest"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9110"
	}
	if c.Timescale.ConnString != "" && c.Timescale.Table == "" {
		c.Timescale.Table = "daq_samples"
	}
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case "tcp":
		if c.Transport.Address == "" {
			return fmt.Errorf("transport.address is required for kind=tcp")
		}
	case "serial":
		if c.Transport.Port == "" {
			return fmt.Errorf("transport.port is required for kind=serial")
		}
	default:
		return fmt.Errorf("transport.kind must be tcp or serial, got %q", c.Transport.Kind)
	}

	if c.Symbols.ImagePath == "" && c.Symbols.ModelMapRoot == "" {
		return fmt.Errorf("symbols.image_path or symbols.model_map_root is required")
	}

	switch c.Daq.OverflowPolicy {
	case "drop_oldest", "block":
	default:
		return fmt.Errorf("daq.overflow_policy must be drop_oldest or block, got %q", c.Daq.OverflowPolicy)
	}
	if c.Daq.QueueCapacity <= 0 {
		return fmt.Errorf("daq.queue_capacity must be positive")
	}

	return nil
}
