package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulseguard/pulseguard/server/internal/store"
)

func githubAlert() store.AlertRecord {
	return store.AlertRecord{
		ID:          "a1",
		MonitorID:   "checkout-api",
		Kind:        store.KindDowntime,
		Severity:    store.SeverityCritical,
		Status:      store.AlertOpen,
		Reason:      "3 consecutive failed checks",
		RiskFactors: []string{"elevated failure rate"},
		OpenedAt:    testBase,
	}
}

func TestGitHubOpen_CreatesIssue(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number": 42, "html_url": "https://github.com/acme/status/issues/42"}`))
	}))
	defer srv.Close()

	g := NewGitHub("acme/status", "tok-123", []string{"pulseguard", "incident"})
	g.baseURL = srv.URL

	ref, err := g.Open(testCtx, githubAlert())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ref != "42" {
		t.Errorf("ref: got %q, want 42", ref)
	}
	if gotPath != "POST /repos/acme/status/issues" {
		t.Errorf("request: got %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	title, _ := gotBody["title"].(string)
	if !strings.Contains(title, "checkout-api") {
		t.Errorf("title: got %q", title)
	}
	body, _ := gotBody["body"].(string)
	if !strings.Contains(body, "elevated failure rate") {
		t.Errorf("body missing risk factors: %q", body)
	}
	labels := labelStrings(gotBody["labels"])
	for _, want := range []string{"pulseguard", "incident", "severity:critical", "kind:downtime"} {
		if !contains(labels, want) {
			t.Errorf("labels missing %q: %v", want, labels)
		}
	}
}

func labelStrings(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		s, _ := l.(string)
		out = append(out, s)
	}
	return out
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestGitHubUpdate_RelabelsAndComments(t *testing.T) {
	var calls []string
	var patchBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPatch {
			json.NewDecoder(r.Body).Decode(&patchBody)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGitHub("acme/status", "tok", []string{"pulseguard"})
	g.baseURL = srv.URL

	a := githubAlert()
	a.Kind = store.KindBurnRate
	a.Severity = store.SeverityCritical
	a.ExternalRef = "42"

	if err := g.Update(testCtx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	want := []string{
		"PATCH /repos/acme/status/issues/42",
		"POST /repos/acme/status/issues/42/comments",
	}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls: got %v, want %v", calls, want)
	}
	labels := labelStrings(patchBody["labels"])
	if !contains(labels, "severity:critical") || !contains(labels, "kind:burn_rate") {
		t.Errorf("patched labels: %v", labels)
	}
}

func TestGitHubClose_CommentsThenCloses(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGitHub("acme/status", "tok", nil)
	g.baseURL = srv.URL

	a := githubAlert()
	a.Status = store.AlertClosed
	a.CloseReason = CloseReasonRecovered
	closedAt := testBase.Add(time.Hour)
	a.ClosedAt = &closedAt
	a.ExternalRef = "42"

	if err := g.Close(testCtx, a); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{
		"POST /repos/acme/status/issues/42/comments",
		"PATCH /repos/acme/status/issues/42",
	}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls: got %v, want %v", calls, want)
	}
}

func TestGitHubClose_MissingClosedAt(t *testing.T) {
	var commentBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/comments") {
			json.NewDecoder(r.Body).Decode(&commentBody)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGitHub("acme/status", "tok", nil)
	g.baseURL = srv.URL

	// A record without a close timestamp must still close cleanly.
	a := githubAlert()
	a.Status = store.AlertClosed
	a.CloseReason = CloseReasonRecovered
	a.ExternalRef = "42"

	if err := g.Close(testCtx, a); err != nil {
		t.Fatalf("close: %v", err)
	}
	body, _ := commentBody["body"].(string)
	if !strings.Contains(body, CloseReasonRecovered) {
		t.Errorf("comment: %q", body)
	}
}

func TestGitHub_ErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "API rate limit exceeded"}`))
	}))
	defer srv.Close()

	g := NewGitHub("acme/status", "tok", nil)
	g.baseURL = srv.URL

	_, err := g.Open(testCtx, githubAlert())
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("error: %v", err)
	}
}
