package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/pulseguard/pulseguard/agent/internal/config"
	"github.com/pulseguard/pulseguard/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	maxBatchSize      = 500
	ingestPath        = "/api/v1/ingest"
)

// Shipper buffers check results and ships them to pulseguard-server in
// batches over HTTP. Ship() is non-blocking; when the buffer is full the
// oldest result is evicted. Run() must be called in a goroutine to drain the
// buffer on the ship interval and back off while the server is unreachable.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan types.CheckResult
	client *http.Client
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan types.CheckResult, cfg.BufferSize),
		client: &http.Client{Timeout: sendTimeout},
	}
}

// Ship enqueues one result. If the buffer is full the oldest entry is
// evicted to make room.
func (s *Shipper) Ship(res types.CheckResult) {
	select {
	case s.buf <- res:
	default:
		// Buffer full: drop the oldest result, keep the newest.
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest result",
				"monitor", res.MonitorID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- res
	}
}

// Pending returns the number of buffered results not yet shipped.
func (s *Shipper) Pending() int {
	return len(s.buf)
}

// Run flushes the buffer every ship interval until ctx is cancelled. After a
// failed delivery the next attempt waits for an exponential backoff instead
// of the regular interval.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()
	wait := s.cfg.ShipInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.Flush(ctx); err != nil {
			wait = bo.next()
			slog.Warn("shipper: delivery failed, backing off",
				"server", s.cfg.ServerURL, "err", err, "retry_in", wait, "pending", len(s.buf))
			continue
		}
		bo.reset()
		wait = s.cfg.ShipInterval
	}
}

// Flush drains up to one batch from the buffer and delivers it. Transient
// failures requeue the batch and return an error; results the server marks
// rejected are gone for good (stale or unknown, a retry cannot fix them).
func (s *Shipper) Flush(ctx context.Context) error {
	batch := s.collect()
	if len(batch) == 0 {
		return nil
	}

	resp, err := s.send(ctx, batch)
	if err != nil {
		// Rejections the server will never accept (bad request, bad
		// credentials) are not worth requeueing.
		if errors.Is(err, errPermanent) {
			slog.Error("shipper: permanent send error, discarding batch",
				"count", len(batch), "err", err)
			return nil
		}
		for _, r := range batch {
			s.Ship(r)
		}
		return err
	}

	if resp.Rejected > 0 {
		slog.Warn("shipper: server rejected results",
			"accepted", resp.Accepted, "rejected", resp.Rejected, "message", resp.Message)
	} else {
		slog.Debug("shipper: batch delivered", "count", resp.Accepted)
	}
	return nil
}

// collect drains up to maxBatchSize results without blocking.
func (s *Shipper) collect() []types.CheckResult {
	batch := make([]types.CheckResult, 0, min(len(s.buf), maxBatchSize))
	for len(batch) < maxBatchSize {
		select {
		case r := <-s.buf:
			batch = append(batch, r)
		default:
			return batch
		}
	}
	return batch
}

// send POSTs one batch to the ingest endpoint.
func (s *Shipper) send(ctx context.Context, batch []types.CheckResult) (*types.IngestResponse, error) {
	body, err := json.Marshal(types.IngestRequest{Results: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.cfg.ServerURL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		req.Header.Set(s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("server returned %d: %s", resp.StatusCode, snippet)
		if isPermanentStatus(resp.StatusCode) {
			err = fmt.Errorf("%w: %w", errPermanent, err)
		}
		return nil, err
	}

	var out types.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// errPermanent marks delivery failures a retry cannot fix.
var errPermanent = errors.New("permanent send error")

// isPermanentStatus returns true for HTTP statuses that indicate the batch
// itself is unacceptable. Timeouts and rate limits stay retryable.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
