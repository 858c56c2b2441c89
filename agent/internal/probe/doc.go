// Package probe performs the actual endpoint checks: plain HTTP health
// probes (status code and optional body substring) and Prometheus metrics
// probes (exposition text must parse). Every probe yields a
// types.CheckResult; HTTPS targets also get the days left on the leaf
// certificate.
package probe
