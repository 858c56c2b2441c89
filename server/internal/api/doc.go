// Package api serves the /api/v1 REST surface: monitor snapshots, alert
// listing and acknowledgement, training triggers, prediction history, and
// the agent's check-result ingest endpoint.
package api
