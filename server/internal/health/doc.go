// Package health implements the per-monitor health state machine.
//
// A monitor starts in Pending and moves to Up or Down when a run of
// consecutive check outcomes reaches the configured threshold (default 3
// both ways). Checks that extend or reset a run without reaching the
// threshold update counters silently; only threshold crossings produce a
// Transition, and only Transitions drive alerting.
package health
