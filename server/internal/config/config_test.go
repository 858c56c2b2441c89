package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- helpers ---

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func load(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func loadErr(t *testing.T, content string) error {
	t.Helper()
	_, err := Load(writeConfig(t, content))
	return err
}

func TestLoad_Defaults(t *testing.T) {
	// Empty server section; everything defaulted.
	cfg := load(t, `server: {}`)

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.Alerts.RiskThreshold != DefaultRiskThreshold {
		t.Errorf("risk_threshold: got %v", cfg.Server.Alerts.RiskThreshold)
	}
	if cfg.Server.Alerts.MaxSyncAttempts != DefaultMaxSyncAttempts {
		t.Errorf("max_sync_attempts: got %d", cfg.Server.Alerts.MaxSyncAttempts)
	}
	if cfg.Server.SLO.ShortWindow != time.Hour || cfg.Server.SLO.LongWindow != 6*time.Hour {
		t.Errorf("slo windows: %v / %v", cfg.Server.SLO.ShortWindow, cfg.Server.SLO.LongWindow)
	}
	if cfg.Server.SLO.WarningBurn != 6.0 || cfg.Server.SLO.CriticalBurn != 14.4 {
		t.Errorf("burn multipliers: %v / %v", cfg.Server.SLO.WarningBurn, cfg.Server.SLO.CriticalBurn)
	}
	if cfg.Server.Training.Interval != 20*time.Minute {
		t.Errorf("training interval: %v", cfg.Server.Training.Interval)
	}
	if cfg.Server.Training.SafetyTimeout != 5*time.Minute {
		t.Errorf("safety timeout: %v", cfg.Server.Training.SafetyTimeout)
	}
}

func TestLoad_FullServer(t *testing.T) {
	cfg := load(t, `server:
  listen_addr: ":9090"
  auth:
    mode: apikey
    key_env: MY_KEY
    header: X-Pulse-Key
  storage:
    backend: postgres
    dsn_env: MY_DSN
  tracker:
    type: github
    repo: acme/status
    token_env: GH_TOKEN
    labels: [outage, automated]
  alerts:
    risk_threshold: 0.6
    max_sync_attempts: 5
    sync_interval: 1m
  slo:
    target_pct: 99.5
    short_window: 30m
    long_window: 3h
  training:
    interval: 1h
    min_samples: 100
`)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.Auth.EffectiveHeader() != "X-Pulse-Key" {
		t.Errorf("header: got %q", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Storage.Backend != "postgres" {
		t.Errorf("backend: got %q", cfg.Server.Storage.Backend)
	}
	if cfg.Server.Tracker.Repo != "acme/status" || len(cfg.Server.Tracker.Labels) != 2 {
		t.Errorf("tracker: %+v", cfg.Server.Tracker)
	}
	if cfg.Server.Alerts.RiskThreshold != 0.6 || cfg.Server.Alerts.SyncInterval != time.Minute {
		t.Errorf("alerts: %+v", cfg.Server.Alerts)
	}
	if cfg.Server.SLO.ShortWindow != 30*time.Minute {
		t.Errorf("short window: %v", cfg.Server.SLO.ShortWindow)
	}
	if cfg.Server.Training.Interval != time.Hour || cfg.Server.Training.MinSamples != 100 {
		t.Errorf("training: %+v", cfg.Server.Training)
	}
}

func TestLoad_MonitorDefaults(t *testing.T) {
	cfg := load(t, `server:
  slo:
    target_pct: 99.5
monitors:
  - id: checkout-api
    url: https://example.com/health
  - id: billing-api
    name: Billing
    url: https://example.com/billing
    interval: 10s
    down_threshold: 5
    slo_target_pct: 99.99
`)

	first := cfg.Monitors[0]
	if first.Name != "checkout-api" {
		t.Errorf("name should default to id: %q", first.Name)
	}
	if first.Interval != DefaultCheckInterval {
		t.Errorf("interval: got %v", first.Interval)
	}
	if first.DownThreshold != 3 || first.RecoveryThreshold != 3 {
		t.Errorf("thresholds: %d/%d", first.DownThreshold, first.RecoveryThreshold)
	}
	if first.SLOTargetPct != 99.5 {
		t.Errorf("slo target should inherit server default: %v", first.SLOTargetPct)
	}

	second := cfg.Monitors[1]
	if second.Interval != 10*time.Second || second.DownThreshold != 5 {
		t.Errorf("explicit fields overridden: %+v", second)
	}
	if second.SLOTargetPct != 99.99 {
		t.Errorf("slo target: %v", second.SLOTargetPct)
	}
}

func TestLoad_SecretResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_DSN", "postgres://localhost/pulse")
	t.Setenv("TEST_GH_TOKEN", "ghp_x")

	cfg := load(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
  storage:
    backend: postgres
    dsn_env: TEST_DSN
  tracker:
    type: github
    repo: acme/status
    token_env: TEST_GH_TOKEN
`)

	if cfg.Server.Auth.Key() != "supersecret" {
		t.Errorf("Key(): %q", cfg.Server.Auth.Key())
	}
	if cfg.Server.Storage.DSN() != "postgres://localhost/pulse" {
		t.Errorf("DSN(): %q", cfg.Server.Storage.DSN())
	}
	if cfg.Server.Tracker.Token() != "ghp_x" {
		t.Errorf("Token(): %q", cfg.Server.Tracker.Token())
	}
	if (AuthConfig{}).Key() != "" {
		t.Error("unset KeyEnv should resolve to empty")
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	cfg := load(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	if h := cfg.Server.Auth.EffectiveHeader(); h != DefaultAuthHeader {
		t.Errorf("EffectiveHeader: got %q, want %q", h, DefaultAuthHeader)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode": `server:
  auth:
    mode: oauth2`,
		"unknown backend": `server:
  storage:
    backend: sqlite`,
		"github without repo": `server:
  tracker:
    type: github`,
		"risk threshold out of range": `server:
  alerts:
    risk_threshold: 1.5`,
		"inverted slo windows": `server:
  slo:
    short_window: 6h
    long_window: 1h`,
		"inverted burn multipliers": `server:
  slo:
    warning_burn: 20
    critical_burn: 10`,
		"monitor without url": `monitors:
  - id: ghost`,
		"duplicate monitor id": `monitors:
  - id: dup
    url: https://a.example.com
  - id: dup
    url: https://b.example.com`,
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if err := loadErr(t, yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	// Watch runs in the background; give it a moment to arm before writing.
	p := writeConfig(t, `server: {}`)

	changed := make(chan *Config, 1)
	ctx, cancel := contextWithCancel(t)
	go func() {
		if err := Watch(ctx, p, func(c *Config) { changed <- c }); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte("server:\n  listen_addr: \":9999\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Server.ListenAddr != ":9999" {
			t.Errorf("reloaded listen_addr: %q", cfg.Server.ListenAddr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
}

func TestWatch_KeepsPreviousOnBadYAML(t *testing.T) {
	p := writeConfig(t, `server: {}`)

	changed := make(chan *Config, 1)
	ctx, cancel := contextWithCancel(t)
	defer cancel()
	go Watch(ctx, p, func(c *Config) { changed <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("onChange called for invalid config")
	case <-time.After(500 * time.Millisecond):
	}
}
