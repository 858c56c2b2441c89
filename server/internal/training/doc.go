// Package training supervises per-monitor failure-prediction jobs.
//
// The Orchestrator enforces one live job per monitor, polls the Worker for
// staged progress, reaps stuck jobs with a safety timeout, and on completion
// persists the Prediction and hands it to the alert manager. StatWorker is
// the built-in in-process Worker; the Worker interface leaves room for an
// external training service behind the same contract.
package training
