package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "popclient.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if d, _ := cfg.POP3.GetCommandTimeout(); d != 2*time.Minute {
		t.Errorf("Expected command timeout 2m, got %v", d)
	}
	if n, _ := cfg.POP3.GetMaxResponseSize(); n != 64<<20 {
		t.Errorf("Expected max response size 64MiB, got %d", n)
	}
	if cfg.POP3.ConnectRetries != 0 {
		t.Errorf("Expected retries disabled by default, got %d", cfg.POP3.ConnectRetries)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"

[pop3]
addr = "  mail.example.org  "
tls = true
username = "alice"
command_timeout = "45s"
max_response_size = "10MiB"
connect_retries = 3

[http_api]
addr = ":8081"
api_key = "secret"
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}

	if cfg.POP3.Addr != "mail.example.org" {
		t.Errorf("Expected trimmed addr, got %q", cfg.POP3.Addr)
	}
	if !cfg.POP3.TLS {
		t.Error("Expected tls = true")
	}
	if d, _ := cfg.POP3.GetCommandTimeout(); d != 45*time.Second {
		t.Errorf("Expected 45s, got %v", d)
	}
	if n, _ := cfg.POP3.GetMaxResponseSize(); n != 10<<20 {
		t.Errorf("Expected 10MiB, got %d", n)
	}
	if cfg.POP3.ConnectRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.POP3.ConnectRetries)
	}
	// Defaults not mentioned in the file survive.
	if cfg.POP3.ConnectTimeout != "30s" {
		t.Errorf("Expected default connect timeout, got %q", cfg.POP3.ConnectTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Output != "stderr" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.HTTPAPI.Addr != ":8081" || cfg.HTTPAPI.APIKey != "secret" {
		t.Errorf("Unexpected http_api config: %+v", cfg.HTTPAPI)
	}
}

func TestLoadConfigFromFile_CredentialsVerbatim(t *testing.T) {
	path := writeConfig(t, `
[pop3]
addr = " mail.example.org "
username = " alice"
password = "  pass phrase  "
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.POP3.Password != "  pass phrase  " {
		t.Errorf("Expected password kept verbatim, got %q", cfg.POP3.Password)
	}
	if cfg.POP3.Username != " alice" {
		t.Errorf("Expected username kept verbatim, got %q", cfg.POP3.Username)
	}
	if cfg.POP3.Addr != "mail.example.org" {
		t.Errorf("Expected trimmed addr, got %q", cfg.POP3.Addr)
	}
}

func TestLoadConfigFromFile_UnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[pop3]
addr = "localhost"
typo_setting = 123
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Errorf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.POP3.Addr != "localhost" {
		t.Errorf("Expected addr=localhost, got %s", cfg.POP3.Addr)
	}
}

func TestLoadConfigFromFile_BooleanTypo(t *testing.T) {
	path := writeConfig(t, `
[pop3]
tls = t
`)

	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(path, &cfg)
	if err == nil {
		t.Fatal("Expected error for invalid boolean")
	}
	if !strings.Contains(err.Error(), "HINT") {
		t.Errorf("Expected a hint in the error, got: %v", err)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad command timeout", func(c *Config) { c.POP3.CommandTimeout = "soon" }, "pop3.command_timeout"},
		{"negative command timeout", func(c *Config) { c.POP3.CommandTimeout = "-1s" }, "must not be negative"},
		{"bad size", func(c *Config) { c.POP3.MaxResponseSize = "huge" }, "pop3.max_response_size"},
		{"negative retries", func(c *Config) { c.POP3.ConnectRetries = -1 }, "pop3.connect_retries"},
		{"api without addr", func(c *Config) { c.HTTPAPI.Addr = "" }, "http_api.addr"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTimeoutDefaultsOnInvalidValue(t *testing.T) {
	c := POP3Config{CommandTimeout: "bogus", ConnectTimeout: "bogus"}
	if d := c.GetCommandTimeoutWithDefault(); d != 2*time.Minute {
		t.Errorf("Expected fallback 2m, got %v", d)
	}
	if d := c.GetConnectTimeoutWithDefault(); d != 30*time.Second {
		t.Errorf("Expected fallback 30s, got %v", d)
	}
}
