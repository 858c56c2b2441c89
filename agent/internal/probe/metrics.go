package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/pulseguard/pulseguard/agent/internal/config"
	"github.com/pulseguard/pulseguard/pkg/types"
)

// metricsProber checks a Prometheus exposition endpoint: the probe succeeds
// when the endpoint returns 200 and the body parses as valid exposition
// text. A service whose /metrics has gone unparsable is treated as down.
type metricsProber struct {
	target config.Target
	client *http.Client
	now    func() time.Time
}

func (p *metricsProber) Probe(ctx context.Context) types.CheckResult {
	start := p.now()
	res := baseResult(p.target.ID, start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target.URL, nil)
	if err != nil {
		res.Error = fmt.Sprintf("build request: %v", err)
		return res
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := p.client.Do(req)
	res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		res.Error = fmt.Sprintf("http get: %v", err)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.CertDaysLeft = certDaysLeft(resp, start)

	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return res
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil && len(mfs) == 0 {
		// A non-empty result with a non-nil err is a partial parse (trailing
		// lines, format warnings) and still counts as success.
		res.Error = fmt.Sprintf("parse prometheus text: %v", err)
		return res
	}
	if len(mfs) == 0 {
		res.Error = "no metric families in response"
		return res
	}

	res.Success = true
	return res
}
