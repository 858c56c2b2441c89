package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/pulseguard/pulseguard/agent/internal/config"
	"github.com/pulseguard/pulseguard/pkg/types"
)

// maxBodyBytes caps how much of a response body a probe reads.
const maxBodyBytes = 1 << 20

// Prober checks one target and reports the outcome as a CheckResult.
// Probe never returns an error: a failed check is a result with
// Success == false and the failure recorded in Error.
type Prober interface {
	Probe(ctx context.Context) types.CheckResult
}

// New returns the appropriate Prober for the given target configuration.
// It builds the HTTP client once and reuses it across probe calls.
func New(target config.Target) (Prober, error) {
	client := buildHTTPClient(target)
	switch target.Type {
	case "http", "":
		return &httpProber{target: target, client: client, now: time.Now}, nil
	case "metrics":
		return &metricsProber{target: target, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("probe: unsupported type %q", target.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the target's auth and TLS
// settings.
func buildHTTPClient(target config.Target) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: target.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: target.Auth,
		},
		Timeout: target.Timeout,
	}
}

// certDaysLeft extracts the leaf certificate lifetime from a completed TLS
// response. Returns nil for plain HTTP.
func certDaysLeft(resp *http.Response, now time.Time) *int {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil
	}
	days := int(resp.TLS.PeerCertificates[0].NotAfter.Sub(now).Hours() / 24)
	return &days
}

// baseResult initialises a CheckResult stamped at probe start.
func baseResult(monitorID string, at time.Time) types.CheckResult {
	return types.CheckResult{
		MonitorID: monitorID,
		Timestamp: at.UTC(),
	}
}
