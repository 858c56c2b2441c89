package slo

import (
	"math"
	"time"

	"github.com/pulseguard/pulseguard/pkg/types"
)

// Level is the burn-rate alerting level derived from the two windows.
type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Default window spans and burn-rate multipliers.
const (
	DefaultShortWindow  = time.Hour
	DefaultLongWindow   = 6 * time.Hour
	DefaultWarningMult  = 6.0
	DefaultCriticalMult = 14.4
)

// WindowReport holds the SLO arithmetic for one rolling window.
//
// Valid is false when the window holds no checks; uptime and burn rate are
// then meaningless and the window must not drive alerting.
type WindowReport struct {
	Window                  time.Duration
	Total                   int
	Failures                int
	UptimePct               float64
	ErrorRate               float64
	BurnRate                float64
	ErrorBudgetRemainingPct float64
	Valid                   bool
}

// Report combines both windows and the resulting alert level.
type Report struct {
	Short WindowReport
	Long  WindowReport
	Level Level
}

// Calculator maintains the rolling check-outcome windows for one monitor and
// derives uptime, error budget, and burn rates against the SLO target.
//
// Like health.Tracker it carries no lock of its own; the engine serializes
// per-monitor access.
type Calculator struct {
	targetPct    float64
	short, long  time.Duration
	warningMult  float64
	criticalMult float64

	// samples are ordered by timestamp (ingest enforces arrival order) and
	// pruned lazily to the long window on each insert.
	samples []types.CheckResult
}

// New returns a Calculator for the given SLO target percentage (e.g. 99.9).
// Zero spans and multipliers fall back to the defaults.
func New(targetPct float64, short, long time.Duration, warningMult, criticalMult float64) *Calculator {
	if short <= 0 {
		short = DefaultShortWindow
	}
	if long <= 0 {
		long = DefaultLongWindow
	}
	if warningMult <= 0 {
		warningMult = DefaultWarningMult
	}
	if criticalMult <= 0 {
		criticalMult = DefaultCriticalMult
	}
	return &Calculator{
		targetPct:    targetPct,
		short:        short,
		long:         long,
		warningMult:  warningMult,
		criticalMult: criticalMult,
	}
}

// Observe appends one check result and prunes entries that fell out of the
// long window.
func (c *Calculator) Observe(res types.CheckResult) {
	c.samples = append(c.samples, res)
	c.prune(res.Timestamp)
}

// prune drops samples older than the long window relative to now.
func (c *Calculator) prune(now time.Time) {
	cutoff := now.Add(-c.long)
	i := 0
	for i < len(c.samples) && !c.samples[i].Timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = append(c.samples[:0], c.samples[i:]...)
	}
}

// Window returns a copy of the samples within span of now, newest last.
// The training worker reads its feature window through this.
func (c *Calculator) Window(now time.Time, span time.Duration) []types.CheckResult {
	cutoff := now.Add(-span)
	out := make([]types.CheckResult, 0, len(c.samples))
	for _, s := range c.samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Report recomputes both windows as of now. It also prunes, so a Report on a
// quiet monitor reflects budget decay from the absence of traffic.
func (c *Calculator) Report(now time.Time) Report {
	c.prune(now)

	r := Report{
		Short: c.windowReport(now, c.short),
		Long:  c.windowReport(now, c.long),
		Level: LevelNone,
	}

	switch {
	case r.Short.Valid && r.Short.BurnRate >= c.criticalMult:
		r.Level = LevelCritical
	case r.Long.Valid && r.Long.BurnRate >= c.warningMult:
		r.Level = LevelWarning
	}
	return r
}

func (c *Calculator) windowReport(now time.Time, span time.Duration) WindowReport {
	rep := WindowReport{Window: span}
	cutoff := now.Add(-span)

	for _, s := range c.samples {
		if !s.Timestamp.After(cutoff) {
			continue
		}
		rep.Total++
		if !s.Success {
			rep.Failures++
		}
	}

	if rep.Total == 0 {
		// No checks in the window: non-alertable, never divide by zero.
		return rep
	}

	rep.Valid = true
	rep.ErrorRate = float64(rep.Failures) / float64(rep.Total)
	rep.UptimePct = (1 - rep.ErrorRate) * 100

	allowed := (100 - c.targetPct) / 100
	if allowed <= 0 {
		// A 100% target leaves no budget at all: any failure is an
		// infinite burn, a clean window burns nothing.
		if rep.Failures > 0 {
			rep.BurnRate = math.Inf(1)
		}
		return rep
	}

	rep.BurnRate = rep.ErrorRate / allowed
	rep.ErrorBudgetRemainingPct = math.Max(0, allowed-rep.ErrorRate) / allowed * 100
	return rep
}
