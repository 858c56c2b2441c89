package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListenAddr        = ":8080"
	DefaultAuthHeader        = "X-API-Key"
	DefaultRiskThreshold     = 0.40
	DefaultMaxSyncAttempts   = 3
	DefaultSyncInterval      = 30 * time.Second
	DefaultSLOTargetPct      = 99.9
	DefaultShortWindow       = time.Hour
	DefaultLongWindow        = 6 * time.Hour
	DefaultWarningBurn       = 6.0
	DefaultCriticalBurn      = 14.4
	DefaultTrainingInterval  = 20 * time.Minute
	DefaultSafetyTimeout     = 5 * time.Minute
	DefaultMinSamples        = 30
	DefaultCheckInterval     = 30 * time.Second
	DefaultDownThreshold     = 3
	DefaultRecoveryThreshold = 3
)

// Config holds the server-side configuration parsed from config.yaml.
// The `agent:` key in the same file is ignored.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Monitors []MonitorConfig `yaml:"monitors"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// ListenAddr is the host:port the REST API and WebSocket hub listen on.
	ListenAddr string `yaml:"listen_addr"`

	// Auth configures how the server authenticates incoming REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Tracker configures the external issue tracker alerts are mirrored to.
	Tracker TrackerConfig `yaml:"tracker"`

	// Alerts tunes alert lifecycle behaviour.
	Alerts AlertsConfig `yaml:"alerts"`

	// SLO tunes the burn-rate calculator.
	SLO SLOConfig `yaml:"slo"`

	// Training tunes the predictive training orchestrator.
	Training TrainingConfig `yaml:"training"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "X-API-Key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend string `yaml:"backend"`

	// DSNEnv is the name of the environment variable that holds the Postgres
	// connection string. Used when Backend == "postgres".
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// TrackerConfig configures external issue tracker integration.
type TrackerConfig struct {
	// Type is one of: github | none.
	Type string `yaml:"type"`

	// Repo is the "owner/name" GitHub repository issues are filed in.
	Repo string `yaml:"repo"`

	// TokenEnv is the name of the environment variable that holds the
	// GitHub API token.
	TokenEnv string `yaml:"token_env"`

	// Labels are attached to every issue the server opens.
	Labels []string `yaml:"labels"`
}

// Token returns the tracker API token resolved from the environment.
func (t TrackerConfig) Token() string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// AlertsConfig tunes alert lifecycle behaviour.
type AlertsConfig struct {
	// RiskThreshold is the failure probability at or above which a
	// predictive alert opens. Range [0, 1].
	RiskThreshold float64 `yaml:"risk_threshold"`

	// MaxSyncAttempts caps tracker delivery retries per alert.
	MaxSyncAttempts int `yaml:"max_sync_attempts"`

	// SyncInterval is how often pending tracker deliveries are retried.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// SLOConfig tunes the burn-rate calculator.
type SLOConfig struct {
	// TargetPct is the default SLO target for monitors that do not set
	// their own (e.g. 99.9).
	TargetPct float64 `yaml:"target_pct"`

	// ShortWindow and LongWindow are the two burn-rate evaluation windows.
	ShortWindow time.Duration `yaml:"short_window"`
	LongWindow  time.Duration `yaml:"long_window"`

	// WarningBurn and CriticalBurn are the burn-rate multipliers that
	// trigger each alert level.
	WarningBurn  float64 `yaml:"warning_burn"`
	CriticalBurn float64 `yaml:"critical_burn"`
}

// TrainingConfig tunes the predictive training orchestrator.
type TrainingConfig struct {
	// Interval is how often scheduled retraining runs across all monitors.
	Interval time.Duration `yaml:"interval"`

	// SafetyTimeout reaps a job whose worker stopped reporting progress.
	SafetyTimeout time.Duration `yaml:"safety_timeout"`

	// MinSamples is the minimum check history needed before a training run
	// produces a model instead of being skipped.
	MinSamples int `yaml:"min_samples"`
}

// MonitorConfig describes one monitored endpoint.
type MonitorConfig struct {
	// ID is a unique, human-readable identifier for this monitor.
	ID string `yaml:"id"`

	// Name is the display name shown on dashboards.
	Name string `yaml:"name"`

	// URL is the endpoint the agent probes.
	URL string `yaml:"url"`

	// Interval controls how often the agent probes this monitor.
	Interval time.Duration `yaml:"interval"`

	// DownThreshold is the consecutive failure count that marks the
	// monitor down. RecoveryThreshold is the consecutive success count
	// that marks it up again.
	DownThreshold     int `yaml:"down_threshold"`
	RecoveryThreshold int `yaml:"recovery_threshold"`

	// SLOTargetPct overrides server.slo.target_pct for this monitor.
	SLOTargetPct float64 `yaml:"slo_target_pct"`

	// Category is a free-form grouping label (e.g. "payments").
	Category string `yaml:"category"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation; per-monitor defaults inherit from the
// server section.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	applyMonitorDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			Alerts: AlertsConfig{
				RiskThreshold:   DefaultRiskThreshold,
				MaxSyncAttempts: DefaultMaxSyncAttempts,
				SyncInterval:    DefaultSyncInterval,
			},
			SLO: SLOConfig{
				TargetPct:    DefaultSLOTargetPct,
				ShortWindow:  DefaultShortWindow,
				LongWindow:   DefaultLongWindow,
				WarningBurn:  DefaultWarningBurn,
				CriticalBurn: DefaultCriticalBurn,
			},
			Training: TrainingConfig{
				Interval:      DefaultTrainingInterval,
				SafetyTimeout: DefaultSafetyTimeout,
				MinSamples:    DefaultMinSamples,
			},
		},
	}
}

// applyMonitorDefaults fills per-monitor fields left unset in the file.
func applyMonitorDefaults(cfg *Config) {
	for i := range cfg.Monitors {
		m := &cfg.Monitors[i]
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Interval <= 0 {
			m.Interval = DefaultCheckInterval
		}
		if m.DownThreshold <= 0 {
			m.DownThreshold = DefaultDownThreshold
		}
		if m.RecoveryThreshold <= 0 {
			m.RecoveryThreshold = DefaultRecoveryThreshold
		}
		if m.SLOTargetPct <= 0 {
			m.SLOTargetPct = cfg.Server.SLO.TargetPct
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.Storage.Backend {
	case "memory", "postgres", "":
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|postgres", s.Storage.Backend)
	}
	switch s.Tracker.Type {
	case "github":
		if s.Tracker.Repo == "" {
			return fmt.Errorf("server.tracker.repo is required for the github tracker")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.tracker.type %q unknown: want github|none", s.Tracker.Type)
	}
	if s.Alerts.RiskThreshold < 0 || s.Alerts.RiskThreshold > 1 {
		return fmt.Errorf("server.alerts.risk_threshold %v is out of range [0, 1]", s.Alerts.RiskThreshold)
	}
	if s.Alerts.MaxSyncAttempts < 1 {
		return fmt.Errorf("server.alerts.max_sync_attempts must be at least 1")
	}
	if s.SLO.TargetPct <= 0 || s.SLO.TargetPct > 100 {
		return fmt.Errorf("server.slo.target_pct %v is out of range (0, 100]", s.SLO.TargetPct)
	}
	if s.SLO.ShortWindow <= 0 || s.SLO.LongWindow <= s.SLO.ShortWindow {
		return fmt.Errorf("server.slo windows: long_window must exceed a positive short_window")
	}
	if s.SLO.WarningBurn <= 0 || s.SLO.CriticalBurn <= s.SLO.WarningBurn {
		return fmt.Errorf("server.slo burn multipliers: critical_burn must exceed a positive warning_burn")
	}
	if s.Training.Interval <= 0 || s.Training.SafetyTimeout <= 0 {
		return fmt.Errorf("server.training intervals must be positive")
	}
	if s.Training.MinSamples < 1 {
		return fmt.Errorf("server.training.min_samples must be at least 1")
	}

	seen := make(map[string]bool, len(cfg.Monitors))
	for i, m := range cfg.Monitors {
		if m.ID == "" {
			return fmt.Errorf("monitors[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("monitors[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.URL == "" {
			return fmt.Errorf("monitors[%d] %q: url is required", i, m.ID)
		}
		if m.SLOTargetPct <= 0 || m.SLOTargetPct > 100 {
			return fmt.Errorf("monitors[%d] %q: slo_target_pct %v is out of range (0, 100]", i, m.ID, m.SLOTargetPct)
		}
	}
	return nil
}
