package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulseguard/pulseguard/server/internal/store"
)

// IssueTracker mirrors alert lifecycle into an external tracker. Open returns
// an opaque reference that Update and Close use to address the filed issue.
// Update re-delivers a record after a local change, currently a severity move
// on a burn-rate alert.
type IssueTracker interface {
	Open(ctx context.Context, a store.AlertRecord) (ref string, err error)
	Update(ctx context.Context, a store.AlertRecord) error
	Close(ctx context.Context, a store.AlertRecord) error
}

// NoopTracker is used when no tracker is configured. Opens report success
// with an empty reference, so nothing is ever updated or closed remotely.
type NoopTracker struct{}

func (NoopTracker) Open(context.Context, store.AlertRecord) (string, error) { return "", nil }
func (NoopTracker) Update(context.Context, store.AlertRecord) error         { return nil }
func (NoopTracker) Close(context.Context, store.AlertRecord) error          { return nil }

const githubAPIBase = "https://api.github.com"

// GitHub files alerts as issues in one repository via the REST v3 API.
// The reference is the issue number as a decimal string.
type GitHub struct {
	baseURL string // overridable in tests
	repo    string // "owner/name"
	token   string
	labels  []string
	client  *http.Client
}

// NewGitHub creates a tracker for the given "owner/name" repository.
func NewGitHub(repo, token string, labels []string) *GitHub {
	return &GitHub{
		baseURL: githubAPIBase,
		repo:    repo,
		token:   token,
		labels:  labels,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GitHub) Open(ctx context.Context, a store.AlertRecord) (string, error) {
	body := map[string]any{
		"title":  issueTitle(a),
		"body":   issueBody(a),
		"labels": g.issueLabels(a),
	}
	var created struct {
		Number int `json:"number"`
	}
	url := fmt.Sprintf("%s/repos/%s/issues", g.baseURL, g.repo)
	if err := g.do(ctx, http.MethodPost, url, body, &created); err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	return fmt.Sprintf("%d", created.Number), nil
}

// Update re-labels the issue for the record's current severity and leaves a
// comment explaining the change.
func (g *GitHub) Update(ctx context.Context, a store.AlertRecord) error {
	url := fmt.Sprintf("%s/repos/%s/issues/%s", g.baseURL, g.repo, a.ExternalRef)
	if err := g.do(ctx, http.MethodPatch, url, map[string]any{"labels": g.issueLabels(a)}, nil); err != nil {
		return fmt.Errorf("relabel issue %s: %w", a.ExternalRef, err)
	}

	comment := map[string]any{
		"body": fmt.Sprintf("Severity is now **%s**: %s", a.Severity, a.Reason),
	}
	url = fmt.Sprintf("%s/repos/%s/issues/%s/comments", g.baseURL, g.repo, a.ExternalRef)
	if err := g.do(ctx, http.MethodPost, url, comment, nil); err != nil {
		return fmt.Errorf("comment on issue %s: %w", a.ExternalRef, err)
	}
	return nil
}

func (g *GitHub) Close(ctx context.Context, a store.AlertRecord) error {
	resolved := fmt.Sprintf("Resolved: %s.", a.CloseReason)
	if a.ClosedAt != nil {
		resolved = fmt.Sprintf("Resolved: %s at %s.", a.CloseReason, a.ClosedAt.UTC().Format(time.RFC3339))
	}
	comment := map[string]any{"body": resolved}
	url := fmt.Sprintf("%s/repos/%s/issues/%s/comments", g.baseURL, g.repo, a.ExternalRef)
	if err := g.do(ctx, http.MethodPost, url, comment, nil); err != nil {
		return fmt.Errorf("comment on issue %s: %w", a.ExternalRef, err)
	}

	url = fmt.Sprintf("%s/repos/%s/issues/%s", g.baseURL, g.repo, a.ExternalRef)
	if err := g.do(ctx, http.MethodPatch, url, map[string]any{"state": "closed"}, nil); err != nil {
		return fmt.Errorf("close issue %s: %w", a.ExternalRef, err)
	}
	return nil
}

func (g *GitHub) do(ctx context.Context, method, url string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// issueLabels is the configured label set plus the alert's severity and kind,
// so tracker-side filtering does not depend on parsing the issue body.
func (g *GitHub) issueLabels(a store.AlertRecord) []string {
	out := append([]string(nil), g.labels...)
	return append(out, "severity:"+string(a.Severity), "kind:"+string(a.Kind))
}

func issueTitle(a store.AlertRecord) string {
	switch a.Kind {
	case store.KindDowntime:
		return fmt.Sprintf("[pulseguard] %s is down", a.MonitorID)
	case store.KindPredictive:
		return fmt.Sprintf("[pulseguard] %s at risk of failure", a.MonitorID)
	case store.KindBurnRate:
		return fmt.Sprintf("[pulseguard] %s burning error budget", a.MonitorID)
	}
	return fmt.Sprintf("[pulseguard] alert on %s", a.MonitorID)
}

func issueBody(a store.AlertRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Monitor:** %s\n", a.MonitorID)
	fmt.Fprintf(&b, "**Severity:** %s\n", a.Severity)
	fmt.Fprintf(&b, "**Opened:** %s\n\n", a.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n", a.Reason)
	if len(a.RiskFactors) > 0 {
		b.WriteString("\nRisk factors:\n")
		for _, f := range a.RiskFactors {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
