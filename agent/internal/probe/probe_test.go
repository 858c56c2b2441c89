package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulseguard/pulseguard/agent/internal/config"
)

// --- helpers ---

var testCtx = context.Background()

func newTarget(url string) config.Target {
	return config.Target{
		ID:      "checkout-api",
		URL:     url,
		Type:    "http",
		Timeout: 2 * time.Second,
	}
}

func mustProber(t *testing.T, target config.Target) Prober {
	t.Helper()
	p, err := New(target)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestHTTPProbe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := mustProber(t, newTarget(srv.URL)).Probe(testCtx)
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Error)
	}
	if res.MonitorID != "checkout-api" || res.StatusCode != 200 {
		t.Errorf("result: %+v", res)
	}
	if res.LatencyMS < 0 {
		t.Errorf("latency: %v", res.LatencyMS)
	}
	if res.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if res.CertDaysLeft != nil {
		t.Error("plain http should not report cert days")
	}
}

func TestHTTPProbe_ExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.ExpectedStatus = http.StatusOK
	res := mustProber(t, target).Probe(testCtx)
	if res.Success {
		t.Error("204 should fail when 200 is expected")
	}

	target.ExpectedStatus = http.StatusNoContent
	res = mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Errorf("204 should pass when expected: %s", res.Error)
	}
}

func TestHTTPProbe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := mustProber(t, newTarget(srv.URL)).Probe(testCtx)
	if res.Success {
		t.Error("500 should fail the default 2xx expectation")
	}
	if res.StatusCode != 500 {
		t.Errorf("status code: %d", res.StatusCode)
	}
}

func TestHTTPProbe_BodyContains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.BodyContains = `"healthy"`
	res := mustProber(t, target).Probe(testCtx)
	if res.Success {
		t.Error("probe should fail when the body marker is absent")
	}

	target.BodyContains = `"degraded"`
	res = mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Errorf("probe should pass on body match: %s", res.Error)
	}
}

func TestHTTPProbe_Method(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.Method = http.MethodHead
	res := mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Error)
	}
	if gotMethod != http.MethodHead {
		t.Errorf("method: got %s, want HEAD", gotMethod)
	}
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	res := mustProber(t, newTarget(srv.URL)).Probe(testCtx)
	if res.Success {
		t.Error("probe against closed server should fail")
	}
	if res.Error == "" {
		t.Error("failure reason not recorded")
	}
	if res.StatusCode != 0 {
		t.Errorf("status code on transport error: %d", res.StatusCode)
	}
}

func TestHTTPProbe_CertDaysLeft(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.TLS.InsecureSkipVerify = true
	res := mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Error)
	}
	if res.CertDaysLeft == nil {
		t.Fatal("https probe should report cert days")
	}
	// httptest certificates are long-lived; anything positive is fine.
	if *res.CertDaysLeft <= 0 {
		t.Errorf("cert days left: %d", *res.CertDaysLeft)
	}
}

func TestHTTPProbe_AuthHeaders(t *testing.T) {
	t.Setenv("PROBE_TEST_TOKEN", "sekrit")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.Auth = config.AuthConfig{Mode: "bearer", TokenEnv: "PROBE_TEST_TOKEN"}
	res := mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Error)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("authorization header: %q", gotAuth)
	}
}

func TestMetricsProbe_ValidExposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# TYPE up gauge\nup 1\nhttp_requests_total 42\n")) //nolint:errcheck
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.Type = "metrics"
	res := mustProber(t, target).Probe(testCtx)
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Error)
	}
}

func TestMetricsProbe_GarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"this is\": \"json, not exposition\"}")) //nolint:errcheck
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.Type = "metrics"
	res := mustProber(t, target).Probe(testCtx)
	if res.Success {
		t.Error("unparsable exposition should fail the probe")
	}
}

func TestMetricsProbe_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	target := newTarget(srv.URL)
	target.Type = "metrics"
	res := mustProber(t, target).Probe(testCtx)
	if res.Success {
		t.Error("503 metrics endpoint should fail the probe")
	}
	if res.StatusCode != 503 {
		t.Errorf("status code: %d", res.StatusCode)
	}
}

func TestDialCertDays(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	days := dialCertDays(testCtx, srv.URL, true, time.Now())
	if days == nil {
		t.Fatal("expected cert days from TLS dial")
	}
	if *days <= 0 {
		t.Errorf("cert days: %d", *days)
	}

	if got := dialCertDays(testCtx, "http://example.com", false, time.Now()); got != nil {
		t.Error("plain http should yield nil")
	}
}

func TestNew_UnknownType(t *testing.T) {
	target := newTarget("http://example.com")
	target.Type = "icmp"
	if _, err := New(target); err == nil {
		t.Fatal("expected error for unknown probe type")
	}
}
