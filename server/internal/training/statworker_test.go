package training

import (
	"strings"
	"testing"
	"time"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/store"
)

// fakeSource serves a canned window regardless of span.
type fakeSource struct {
	samples []types.CheckResult
}

func (f *fakeSource) Window(string, time.Duration) []types.CheckResult {
	return f.samples
}

// window builds n samples a minute apart, oldest first. fail decides each
// sample's outcome from its index.
func window(n int, latencyMS int64, fail func(i int) bool) []types.CheckResult {
	out := make([]types.CheckResult, 0, n)
	for i := 0; i < n; i++ {
		s := types.CheckResult{
			MonitorID: "m1",
			Timestamp: testBase.Add(time.Duration(i) * time.Minute),
			Success:   !fail(i),
			LatencyMS: float64(latencyMS),
		}
		if !s.Success {
			s.StatusCode = 503
		}
		out = append(out, s)
	}
	return out
}

func newTestStatWorker(src SampleSource) *StatWorker {
	w := NewStatWorker(src, 6*time.Hour, 30)
	w.stageDelay = 0
	return w
}

// waitTerminal polls until the job reaches a terminal state.
func waitTerminal(t *testing.T, w *StatWorker, jobID string) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := w.Status(testCtx, jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.State.Terminal() {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return Status{}
}

func TestStatWorker_SkipsOnInsufficientHistory(t *testing.T) {
	w := newTestStatWorker(&fakeSource{samples: window(12, 50, func(int) bool { return false })})

	if err := w.Start(testCtx, "job-1", "m1", false); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, w, "job-1")
	if st.State != StateSkipped {
		t.Fatalf("state: got %s, want skipped", st.State)
	}
	if !strings.Contains(st.Message, "12 samples") || !strings.Contains(st.Message, "need 30") {
		t.Errorf("message: %q", st.Message)
	}
	if st.Prediction != nil {
		t.Error("skipped job carries a prediction")
	}
}

func TestStatWorker_FailingMonitorScoresHighRisk(t *testing.T) {
	// 30% failing overall, with all recent checks failing.
	src := &fakeSource{samples: window(100, 50, func(i int) bool {
		return i >= 70
	})}
	w := newTestStatWorker(src)

	w.Start(testCtx, "job-1", "m1", false)
	st := waitTerminal(t, w, "job-1")

	if st.State != StateCompleted || st.Prediction == nil {
		t.Fatalf("terminal status: %+v", st)
	}
	p := st.Prediction
	if p.FailureProbability < 0.40 {
		t.Errorf("probability: got %v, want at least the risk threshold", p.FailureProbability)
	}
	if p.ModelVersion != statModelVersion {
		t.Errorf("model version: %q", p.ModelVersion)
	}

	joined := strings.Join(p.RiskFactors, "; ")
	if !strings.Contains(joined, "elevated failure rate") {
		t.Errorf("missing failure-rate factor: %v", p.RiskFactors)
	}
	if !strings.Contains(joined, "HTTP 503") {
		t.Errorf("missing repeated-code factor: %v", p.RiskFactors)
	}
}

func TestStatWorker_HealthyMonitorScoresLowRisk(t *testing.T) {
	src := &fakeSource{samples: window(100, 50, func(int) bool { return false })}
	w := newTestStatWorker(src)

	w.Start(testCtx, "job-1", "m1", false)
	st := waitTerminal(t, w, "job-1")

	p := st.Prediction
	if p == nil {
		t.Fatalf("status: %+v", st)
	}
	if p.FailureProbability > 0.05 {
		t.Errorf("probability: got %v, want near zero", p.FailureProbability)
	}
	if len(p.RiskFactors) != 0 {
		t.Errorf("risk factors on a healthy monitor: %v", p.RiskFactors)
	}
	// Steady data, recent and overall agree: confidence near its ceiling
	// for this volume.
	if p.Confidence < 0.5 || p.Confidence > 0.95 {
		t.Errorf("confidence: got %v", p.Confidence)
	}
}

func TestStatWorker_ConfidenceGrowsWithSampleVolume(t *testing.T) {
	run := func(n int) store.Prediction {
		src := &fakeSource{samples: window(n, 50, func(i int) bool { return i%10 == 0 })}
		w := newTestStatWorker(src)
		w.Start(testCtx, "job-1", "m1", false)
		return *waitTerminal(t, w, "job-1").Prediction
	}

	small := run(40)
	large := run(200)
	if large.Confidence <= small.Confidence {
		t.Errorf("confidence: %v samples gave %v, %v samples gave %v",
			40, small.Confidence, 200, large.Confidence)
	}
}

func TestStatWorker_LatencySpikeIsAFactor(t *testing.T) {
	// Baseline 50ms with mild variation, recent quarter at 400ms.
	samples := make([]types.CheckResult, 0, 100)
	for i := 0; i < 100; i++ {
		lat := int64(50 + i%7)
		if i >= 75 {
			lat = 400
		}
		samples = append(samples, types.CheckResult{
			MonitorID: "m1",
			Timestamp: testBase.Add(time.Duration(i) * time.Minute),
			Success:   true,
			LatencyMS: float64(lat),
		})
	}
	w := newTestStatWorker(&fakeSource{samples: samples})

	w.Start(testCtx, "job-1", "m1", false)
	st := waitTerminal(t, w, "job-1")

	joined := strings.Join(st.Prediction.RiskFactors, "; ")
	if !strings.Contains(joined, "latency spike") {
		t.Errorf("missing latency-spike factor: %v", st.Prediction.RiskFactors)
	}
}

func TestStatWorker_UnknownJobID(t *testing.T) {
	w := newTestStatWorker(&fakeSource{})
	if _, err := w.Status(testCtx, "nope"); err == nil {
		t.Error("expected error for unknown job id")
	}
}
