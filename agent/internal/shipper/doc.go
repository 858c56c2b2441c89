// Package shipper buffers check results and delivers them to
// pulseguard-server in batches over the HTTP ingest endpoint.
//
// Ship() never blocks the probe loop: a full buffer evicts the oldest
// result. Run() flushes on the configured ship interval and falls back to
// truncated exponential backoff with jitter while the server is down.
// Transient failures requeue the batch; 4xx responses discard it.
package shipper
