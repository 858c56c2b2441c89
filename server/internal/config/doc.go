// Package config loads and watches the server configuration file
// (config.yaml): the listen address, auth, storage, tracker, alert, SLO,
// and training settings, plus the monitor roster.
//
// Load(path) reads the YAML file, applies defaults, inherits per-monitor
// defaults from the server section, then validates required fields and
// enums. Secrets (API keys, DSNs, tracker tokens) are never stored in the
// file; the *_env fields name environment variables resolved at use time.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config, handling the rename-then-create
// pattern used by atomic-save editors by re-adding the watch.
package config
