// Package engine is the per-monitor health pipeline: it validates and orders
// incoming check results, drives the health state machine and the SLO
// calculator, persists monitor state, and dispatches threshold crossings,
// burn-level changes, and predictions to the alert manager.
//
// All mutation for one monitor is serialized behind that monitor's lock;
// different monitors proceed fully in parallel.
package engine
