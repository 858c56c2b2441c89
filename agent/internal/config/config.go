package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultShipInterval  = 15 * time.Second
	DefaultBufferSize    = 1000
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 10 * time.Second
)

// Config is the agent's view of config.yaml. The file is shared with
// pulseguard-server: the agent reads the `agent:` section and the probing
// fields of `monitors:`, and ignores the `server:` key.
type Config struct {
	Agent    AgentConfig `yaml:"agent"`
	Monitors []Target    `yaml:"monitors"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of pulseguard-server, e.g.
	// "http://localhost:8080". Results are POSTed to its ingest endpoint.
	ServerURL string `yaml:"server_url"`

	// ShipInterval controls how often buffered results are sent to the server.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BufferSize is the maximum number of check results held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// ServerAuth configures how the agent authenticates to pulseguard-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Target describes one probed endpoint. It is the agent's slice of the
// shared monitor definition; health thresholds in the same block belong to
// the server.
type Target struct {
	// ID is a unique, human-readable identifier for this monitor.
	ID string `yaml:"id"`

	// URL is the full URL of the endpoint to probe.
	URL string `yaml:"url"`

	// Type is the probe kind: http | metrics. Defaults to http.
	// A metrics probe parses the body as a Prometheus text exposition.
	Type string `yaml:"type"`

	// Method is the HTTP method for http probes. Defaults to GET.
	Method string `yaml:"method"`

	// Interval controls how often this target is probed.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one probe attempt.
	Timeout time.Duration `yaml:"timeout"`

	// ExpectedStatus is the HTTP status code that counts as success.
	// Zero means any 2xx.
	ExpectedStatus int `yaml:"expected_status"`

	// BodyContains, when set, requires the response body to contain this
	// substring for the probe to succeed.
	BodyContains string `yaml:"body_contains"`

	// Auth configures how the agent authenticates to this target.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies an authentication mode for an HTTP endpoint.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields, used when Mode == "bearer".
	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}
	applyTargetDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ShipInterval: DefaultShipInterval,
			BufferSize:   DefaultBufferSize,
		},
	}
}

// applyTargetDefaults fills per-target fields left unset in the file.
func applyTargetDefaults(cfg *Config) {
	for i := range cfg.Monitors {
		t := &cfg.Monitors[i]
		if t.Type == "" {
			t.Type = "http"
		}
		if t.Method == "" {
			t.Method = "GET"
		}
		if t.Interval <= 0 {
			t.Interval = DefaultProbeInterval
		}
		if t.Timeout <= 0 {
			t.Timeout = DefaultProbeTimeout
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if cfg.Agent.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if err := validateAuth(cfg.Agent.ServerAuth); err != nil {
		return fmt.Errorf("agent.server_auth: %w", err)
	}
	for i, t := range cfg.Monitors {
		if t.ID == "" {
			return fmt.Errorf("monitors[%d]: id is required", i)
		}
		if t.URL == "" {
			return fmt.Errorf("monitors[%d] %q: url is required", i, t.ID)
		}
		switch t.Type {
		case "http", "metrics":
		default:
			return fmt.Errorf("monitors[%d] %q: unknown type %q", i, t.ID, t.Type)
		}
		switch t.Method {
		case "GET", "HEAD", "POST", "":
		default:
			return fmt.Errorf("monitors[%d] %q: unknown method %q", i, t.ID, t.Method)
		}
		if err := validateAuth(t.Auth); err != nil {
			return fmt.Errorf("monitors[%d] %q: %w", i, t.ID, err)
		}
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	switch a.Mode {
	case "apikey", "bearer", "basic", "none", "":
		return nil
	default:
		return fmt.Errorf("unknown auth mode %q", a.Mode)
	}
}
