package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/popclient/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// POP3Config describes the mail server to talk to and how.
type POP3Config struct {
	Addr               string `toml:"addr"`                 // host or host:port; default port depends on tls
	TLS                bool   `toml:"tls"`                  // Implicit TLS (port 995)
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"` // Do not verify the server certificate
	ServerName         string `toml:"server_name"`          // Overrides the TLS server name
	Username           string `toml:"username" notrim:"true"`
	Password           string `toml:"password" notrim:"true"`
	ConnectTimeout     string `toml:"connect_timeout"`   // e.g. "30s"
	CommandTimeout     string `toml:"command_timeout"`   // Per command deadline, e.g. "2m"
	MaxResponseSize    string `toml:"max_response_size"` // e.g. "64MiB"
	StrictState        bool   `toml:"strict_state"`      // Refuse out-of-order commands locally
	Debug              bool   `toml:"debug"`             // Copy raw protocol traffic to stderr
	ConnectRetries     int    `toml:"connect_retries"`   // Extra connection attempts, 0 disables retrying
	RetryInitial       string `toml:"retry_initial"`     // First backoff interval, e.g. "500ms"
	RetryMax           string `toml:"retry_max"`         // Backoff ceiling, e.g. "10s"
}

// GetConnectTimeout parses the connect timeout
func (c *POP3Config) GetConnectTimeout() (time.Duration, error) {
	if c.ConnectTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.ConnectTimeout)
}

// GetCommandTimeout parses the per-command timeout. Zero means no timeout.
func (c *POP3Config) GetCommandTimeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 2 * time.Minute, nil
	}
	return helpers.ParseDuration(c.CommandTimeout)
}

// GetMaxResponseSize parses the response size limit in bytes
func (c *POP3Config) GetMaxResponseSize() (int64, error) {
	if c.MaxResponseSize == "" {
		return 64 << 20, nil
	}
	return helpers.ParseSize(c.MaxResponseSize)
}

// GetRetryInitial parses the first retry interval
func (c *POP3Config) GetRetryInitial() (time.Duration, error) {
	if c.RetryInitial == "" {
		return 500 * time.Millisecond, nil
	}
	return helpers.ParseDuration(c.RetryInitial)
}

// GetRetryMax parses the maximum retry interval
func (c *POP3Config) GetRetryMax() (time.Duration, error) {
	if c.RetryMax == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(c.RetryMax)
}

// GetCommandTimeoutWithDefault returns the command timeout, falling back to
// the default when the value cannot be parsed.
func (c *POP3Config) GetCommandTimeoutWithDefault() time.Duration {
	d, err := c.GetCommandTimeout()
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetConnectTimeoutWithDefault returns the connect timeout, falling back to
// the default when the value cannot be parsed.
func (c *POP3Config) GetConnectTimeoutWithDefault() time.Duration {
	d, err := c.GetConnectTimeout()
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// HTTPAPIConfig holds HTTP API server configuration
type HTTPAPIConfig struct {
	Addr            string `toml:"addr"`
	APIKey          string `toml:"api_key"`          // Bearer token; empty disables authentication
	ShutdownTimeout string `toml:"shutdown_timeout"` // Graceful shutdown limit, e.g. "10s"
}

// GetShutdownTimeout parses the graceful shutdown timeout
func (c *HTTPAPIConfig) GetShutdownTimeout() (time.Duration, error) {
	if c.ShutdownTimeout == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(c.ShutdownTimeout)
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Served by the HTTP API
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	POP3    POP3Config    `toml:"pop3"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
	Metrics MetricsConfig `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		POP3: POP3Config{
			ConnectTimeout:  "30s",
			CommandTimeout:  "2m",
			MaxResponseSize: "64MiB",
			ConnectRetries:  0,
			RetryInitial:    "500ms",
			RetryMax:        "10s",
		},
		HTTPAPI: HTTPAPIConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: "10s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.POP3.GetConnectTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("pop3.connect_timeout: %w", err))
	}
	if d, err := c.POP3.GetCommandTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("pop3.command_timeout: %w", err))
	} else if d < 0 {
		errs = append(errs, errors.New("pop3.command_timeout: must not be negative"))
	}
	if _, err := c.POP3.GetMaxResponseSize(); err != nil {
		errs = append(errs, fmt.Errorf("pop3.max_response_size: %w", err))
	}
	if _, err := c.POP3.GetRetryInitial(); err != nil {
		errs = append(errs, fmt.Errorf("pop3.retry_initial: %w", err))
	}
	if _, err := c.POP3.GetRetryMax(); err != nil {
		errs = append(errs, fmt.Errorf("pop3.retry_max: %w", err))
	}
	if c.POP3.ConnectRetries < 0 {
		errs = append(errs, errors.New("pop3.connect_retries: must not be negative"))
	}
	if c.HTTPAPI.Addr == "" {
		errs = append(errs, errors.New("http_api.addr: must not be empty"))
	}
	if _, err := c.HTTPAPI.GetShutdownTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("http_api.shutdown_timeout: %w", err))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path: %q must start with /", c.Metrics.Path))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// LoadConfigFromFile decodes the TOML file at configPath on top of cfg.
// Unknown keys are reported as warnings, not errors.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError adds a hint for common TOML mistakes
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file. "+
			"Check that strings are quoted and section headers use [section] format.", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a
// struct, except fields tagged notrim.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).Tag.Get("notrim") == "true" {
				continue
			}
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
