// Package config loads and watches the agent configuration file
// (config.yaml). The file is shared with pulseguard-server; the agent reads
// the `agent:` section (server_url, ship_interval, buffer_size, server_auth)
// and the probing fields of the `monitors:` list (url, type, interval,
// timeout, expected_status, body_contains, auth, tls).
//
// Load(path) reads the YAML file, applies defaults (15s ship, 1000 buffer,
// 30s probe interval, 10s timeout), then validates required fields and
// enums. Secrets are resolved from environment variables named by the
// *_env fields, never stored in the file.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config, handling the rename-then-create
// pattern used by atomic-save editors by re-adding the watch.
package config
