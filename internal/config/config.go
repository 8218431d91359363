package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

type AccessLog struct {
	// Path of the log file; empty disables access logging
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // w3c | json
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Telemetry routes spans and logs to the global OpenTelemetry providers.
// The binary installs no SDK or exporter: until the embedding process sets
// global providers (otel.SetTracerProvider, otel.SetMeterProvider, the log
// global), enabling it records nothing.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the startup configuration of the server
type Config struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	Root            string        `yaml:"root"`
	Chunked         bool          `yaml:"chunked"`
	ReceiveBuffer   int           `yaml:"receive_buffer"`
	BlockSize       int           `yaml:"block_size"`
	HeaderHandlers  int           `yaml:"header_handlers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AccessLog       AccessLog     `yaml:"access_log"`
	Log             Log           `yaml:"log"`
	Telemetry       Telemetry     `yaml:"telemetry"`
}

// Default returns a configuration that serves ./www on port 8080
func Default() Config {
	return Config{
		Address:         "",
		Port:            8080,
		Root:            "www",
		Chunked:         false,
		ReceiveBuffer:   4096,
		BlockSize:       1024,
		HeaderHandlers:  10,
		ShutdownTimeout: 10 * time.Second,
		AccessLog:       AccessLog{Format: "w3c"},
		Log:             Log{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Addr returns the listen address in host:port form
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Validate reports every problem at once
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Port < 0 || c.Port > 65535 {
		bad("port %d out of range 0-65535", c.Port)
	}
	if c.Root == "" {
		bad("root is required")
	}
	if c.ReceiveBuffer <= 0 {
		bad("receive_buffer must be positive")
	}
	if c.BlockSize <= 0 {
		bad("block_size must be positive")
	}
	if c.HeaderHandlers < 2 {
		bad("header_handlers must leave room for the built-in handlers")
	}
	if c.ShutdownTimeout < 0 {
		bad("shutdown_timeout must not be negative")
	}
	switch c.AccessLog.Format {
	case "w3c", "json":
	default:
		bad("unknown access_log.format %q", c.AccessLog.Format)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		bad("unknown log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}
