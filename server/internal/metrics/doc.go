// Package metrics exposes the server's Prometheus collectors behind nil-safe
// record methods, so instrumented packages work unchanged without a Set.
package metrics
