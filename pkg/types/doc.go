// Package types holds the wire shapes shared by pulseguard-agent and
// pulseguard-server: the CheckResult record and the ingest request/response
// envelopes. Both binaries marshal these as JSON, so field tags here are the
// ingest protocol contract.
package types
