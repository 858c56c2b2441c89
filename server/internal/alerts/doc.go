// Package alerts manages the alert lifecycle: open, acknowledge, close, and
// background sync into an external issue tracker.
//
// One alert of each kind (downtime, predictive, burn-rate) can be open per
// monitor at a time. Tracker delivery is decoupled from the lifecycle: state
// changes commit to the store synchronously and a sync loop pushes them out,
// so tracker outages never block health evaluation.
package alerts
