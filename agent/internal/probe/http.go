package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulseguard/pulseguard/agent/internal/config"
	"github.com/pulseguard/pulseguard/pkg/types"
)

// httpProber performs a plain HTTP health check: status code match plus an
// optional body substring.
type httpProber struct {
	target config.Target
	client *http.Client
	now    func() time.Time
}

func (p *httpProber) Probe(ctx context.Context) types.CheckResult {
	start := p.now()
	res := baseResult(p.target.ID, start)

	method := p.target.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, p.target.URL, nil)
	if err != nil {
		res.Error = fmt.Sprintf("build request: %v", err)
		return res
	}

	resp, err := p.client.Do(req)
	res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		res.Error = fmt.Sprintf("http get: %v", err)
		// The certificate may still be inspectable even when the HTTP
		// exchange failed.
		res.CertDaysLeft = dialCertDays(ctx, p.target.URL, p.target.TLS.InsecureSkipVerify, start)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.CertDaysLeft = certDaysLeft(resp, start)

	if !statusOK(p.target.ExpectedStatus, resp.StatusCode) {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return res
	}

	if p.target.BodyContains != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			res.Error = fmt.Sprintf("read body: %v", err)
			return res
		}
		if !strings.Contains(string(body), p.target.BodyContains) {
			res.Error = fmt.Sprintf("body does not contain %q", p.target.BodyContains)
			return res
		}
	}

	res.Success = true
	return res
}

// statusOK reports whether code satisfies the configured expectation.
// An expectation of zero accepts any 2xx.
func statusOK(expected, code int) bool {
	if expected != 0 {
		return code == expected
	}
	return code >= 200 && code < 300
}
