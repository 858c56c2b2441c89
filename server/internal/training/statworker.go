package training

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/store"
)

const (
	defaultSpan       = 6 * time.Hour
	defaultMinSamples = 30
	defaultStageDelay = 200 * time.Millisecond

	statModelVersion = "stat-v1"
)

// SampleSource provides a monitor's recent check history. The engine
// implements it over the SLO calculator's windows.
type SampleSource interface {
	Window(monitorID string, span time.Duration) []types.CheckResult
}

// StatWorker is the built-in in-process Worker. It fits a statistical
// failure-risk model over the monitor's recent window: overall and recent
// failure rates, latency z-score against the baseline, tail and variability
// checks, and repeated HTTP error codes.
type StatWorker struct {
	src        SampleSource
	span       time.Duration
	minSamples int
	// stageDelay paces the pipeline stages so progress is observable;
	// tests set it to zero.
	stageDelay time.Duration
	now        func() time.Time

	mu   sync.Mutex
	jobs map[string]Status
}

// NewStatWorker creates a StatWorker over src. Zero options fall back to a
// 6h window, 30 minimum samples, and a small stage delay.
func NewStatWorker(src SampleSource, span time.Duration, minSamples int) *StatWorker {
	if span <= 0 {
		span = defaultSpan
	}
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	return &StatWorker{
		src:        src,
		span:       span,
		minSamples: minSamples,
		stageDelay: defaultStageDelay,
		now:        time.Now,
		jobs:       make(map[string]Status),
	}
}

var _ Worker = (*StatWorker)(nil)

// Start launches a job goroutine under the caller's id and returns
// immediately.
func (w *StatWorker) Start(_ context.Context, jobID, monitorID string, _ bool) error {
	w.set(jobID, Status{State: StateStarting, Progress: 2})
	go w.run(jobID, monitorID)
	return nil
}

// Status returns the job's last observation.
func (w *StatWorker) Status(_ context.Context, jobID string) (Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.jobs[jobID]
	if !ok {
		return Status{}, store.ErrNotFound
	}
	return st, nil
}

func (w *StatWorker) set(jobID string, st Status) {
	w.mu.Lock()
	w.jobs[jobID] = st
	w.mu.Unlock()
}

func (w *StatWorker) pace() {
	if w.stageDelay > 0 {
		time.Sleep(w.stageDelay)
	}
}

func (w *StatWorker) run(jobID, monitorID string) {
	w.pace()
	w.set(jobID, Status{State: StatePreparingData, Progress: 15})

	samples := w.src.Window(monitorID, w.span)
	if len(samples) < w.minSamples {
		w.set(jobID, Status{
			State:    StateSkipped,
			Progress: 100,
			Message:  fmt.Sprintf("insufficient history: %d samples, need %d", len(samples), w.minSamples),
		})
		return
	}

	w.pace()
	w.set(jobID, Status{State: StateTraining, Progress: 60})

	w.pace()
	w.set(jobID, Status{State: StateAnalyzing, Progress: 92})

	p := w.analyze(monitorID, samples)
	w.pace()
	w.set(jobID, Status{State: StateCompleted, Progress: 100, Prediction: &p})
}

// analyze fits the model over the window. Samples arrive oldest first.
func (w *StatWorker) analyze(monitorID string, samples []types.CheckResult) store.Prediction {
	n := len(samples)

	failures := 0
	for _, s := range samples {
		if !s.Success {
			failures++
		}
	}
	overallRate := float64(failures) / float64(n)

	// The recent quarter of the window carries the trend signal.
	recentStart := n - n/4
	if n-recentStart < 5 {
		recentStart = n - 5
	}
	recent := samples[recentStart:]
	recentFailures := 0
	for _, s := range recent {
		if !s.Success {
			recentFailures++
		}
	}
	recentRate := float64(recentFailures) / float64(len(recent))

	var factors []string
	if overallRate > 0.05 {
		factors = append(factors, fmt.Sprintf("elevated failure rate: %.0f%% of checks failed", overallRate*100))
	}
	if recentRate > 1.5*overallRate && recentRate > 0.05 {
		factors = append(factors, fmt.Sprintf("failure rate accelerating: %.0f%% recently vs %.0f%% overall",
			recentRate*100, overallRate*100))
	}

	latencyRisk, latencyFactors := latencySignals(samples[:recentStart], recent)
	factors = append(factors, latencyFactors...)
	factors = append(factors, httpCodeSignals(samples)...)

	probability := clamp01(0.55*recentRate + 0.35*overallRate + latencyRisk)

	// Confidence grows with sample volume and with agreement between the
	// recent and overall rates; a window that contradicts itself is a
	// weaker basis for prediction.
	agreement := clamp01(1 - math.Abs(recentRate-overallRate))
	quality := math.Min(1, float64(n)/200)
	confidence := 0.5 + 0.45*agreement*quality

	return store.Prediction{
		MonitorID:          monitorID,
		ProducedAt:         w.now(),
		FailureProbability: probability,
		Confidence:         confidence,
		RiskFactors:        factors,
		ModelVersion:       statModelVersion,
	}
}

// latencySignals compares recent latency against the baseline part of the
// window and returns a probability boost plus human-readable factors.
func latencySignals(baseline, recent []types.CheckResult) (float64, []string) {
	base := latencies(baseline)
	cur := latencies(recent)
	if len(base) < 5 || len(cur) < 3 {
		return 0, nil
	}

	baseMean, baseStd := stat.MeanStdDev(base, nil)
	curMean := stat.Mean(cur, nil)

	var risk float64
	var factors []string

	if baseStd > 0 {
		z := (curMean - baseMean) / baseStd
		if z > 2 {
			risk += 0.10
			factors = append(factors, fmt.Sprintf(
				"latency spike: recent mean %.0fms is %.1f standard deviations above baseline %.0fms",
				curMean, z, baseMean))
		}
	}

	if baseMean > 0 && baseStd/baseMean > 0.5 {
		factors = append(factors, "high latency variability over the window")
	}

	all := append(append([]float64(nil), base...), cur...)
	sort.Float64s(all)
	p95 := stat.Quantile(0.95, stat.Empirical, all, nil)
	mean := stat.Mean(all, nil)
	if mean > 0 && p95 > 3*mean {
		factors = append(factors, fmt.Sprintf("heavy latency tail: p95 %.0fms vs mean %.0fms", p95, mean))
	}

	return risk, factors
}

func latencies(samples []types.CheckResult) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.LatencyMS > 0 {
			out = append(out, float64(s.LatencyMS))
		}
	}
	return out
}

// httpCodeSignals flags HTTP error codes that repeat enough to be a pattern
// rather than noise.
func httpCodeSignals(samples []types.CheckResult) []string {
	counts := make(map[int]int)
	for _, s := range samples {
		if s.StatusCode >= 400 {
			counts[s.StatusCode]++
		}
	}
	codes := make([]int, 0, len(counts))
	for code, n := range counts {
		if n >= 3 {
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)

	var factors []string
	for _, code := range codes {
		factors = append(factors, fmt.Sprintf("repeated HTTP %d responses (%d times)", code, counts[code]))
	}
	return factors
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
