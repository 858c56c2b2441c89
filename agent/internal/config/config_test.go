package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- helpers ---

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:8080"
  ship_interval: 5s
  buffer_size: 500
monitors:
  - id: checkout-api
    type: http
    url: "https://shop.example.com/health"
    expected_status: 200
    body_contains: '"ok"'
`)

	if cfg.Agent.ServerURL != "http://localhost:8080" {
		t.Errorf("server_url: got %q", cfg.Agent.ServerURL)
	}
	if cfg.Agent.ShipInterval != 5*time.Second {
		t.Errorf("ship_interval: got %v", cfg.Agent.ShipInterval)
	}
	if cfg.Agent.BufferSize != 500 {
		t.Errorf("buffer_size: got %d", cfg.Agent.BufferSize)
	}
	if len(cfg.Monitors) != 1 {
		t.Fatalf("monitors: got %d, want 1", len(cfg.Monitors))
	}
	target := cfg.Monitors[0]
	if target.ID != "checkout-api" || target.ExpectedStatus != 200 {
		t.Errorf("target: %+v", target)
	}
	if target.BodyContains != `"ok"` {
		t.Errorf("body_contains: %q", target.BodyContains)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:8080"
monitors:
  - id: checkout-api
    url: "https://shop.example.com/health"
`)

	if cfg.Agent.ShipInterval != DefaultShipInterval {
		t.Errorf("default ship_interval: got %v, want %v", cfg.Agent.ShipInterval, DefaultShipInterval)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", cfg.Agent.BufferSize, DefaultBufferSize)
	}
	target := cfg.Monitors[0]
	if target.Type != "http" {
		t.Errorf("default type: got %q, want http", target.Type)
	}
	if target.Interval != DefaultProbeInterval {
		t.Errorf("default interval: got %v", target.Interval)
	}
	if target.Timeout != DefaultProbeTimeout {
		t.Errorf("default timeout: got %v", target.Timeout)
	}
}

func TestLoad_IgnoresServerSection(t *testing.T) {
	// The shared config.yaml carries a server: section the agent must skip
	// over, including server-only monitor fields.
	cfg := loadFromString(t, `
server:
  listen_addr: ":8080"
agent:
  server_url: "http://localhost:8080"
monitors:
  - id: checkout-api
    url: "https://shop.example.com/health"
    down_threshold: 5
    slo_target_pct: 99.99
`)
	if len(cfg.Monitors) != 1 {
		t.Fatalf("monitors: got %d", len(cfg.Monitors))
	}
}

func TestLoad_MissingServerURL(t *testing.T) {
	_, err := loadStringErr(t, `
agent:
  buffer_size: 10
`)
	if err == nil {
		t.Fatal("expected error for missing server_url, got nil")
	}
}

func TestLoad_UnknownTargetType(t *testing.T) {
	_, err := loadStringErr(t, `
agent:
  server_url: "http://localhost:8080"
monitors:
  - id: mystery
    type: grpc
    url: "https://example.com"
`)
	if err == nil {
		t.Fatal("expected error for unknown target type, got nil")
	}
}

func TestLoad_UnknownAuthMode(t *testing.T) {
	_, err := loadStringErr(t, `
agent:
  server_url: "http://localhost:8080"
monitors:
  - id: checkout-api
    url: "https://example.com"
    auth:
      mode: magictoken
`)
	if err == nil {
		t.Fatal("expected error for unknown auth mode, got nil")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
}

func TestLoad_MultipleAuthModes(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{"apikey", "apikey"},
		{"bearer", "bearer"},
		{"basic", "basic"},
		{"none", "none"},
		{"empty", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:8080"
monitors:
  - id: checkout-api
    url: "https://example.com"
    auth:
      mode: `+tc.mode+`
`)
			if cfg.Monitors[0].Auth.Mode != tc.mode {
				t.Errorf("auth mode: got %q, want %q", cfg.Monitors[0].Auth.Mode, tc.mode)
			}
		})
	}
}
