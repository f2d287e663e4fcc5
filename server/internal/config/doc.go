// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort, HTTPPort: listener ports (defaults 50051 and 8080)
//   - Auth: API key mode, key_env and header name (default "x-api-key")
//   - Tags.TTL: how long a cached tag value stays readable (default 10m)
//   - Stream.Interval: WebSocket push cadence (default 5s)
//   - Alarms: rules, notification channels, history_size (default 1000),
//     notify_timeout (default 30s) and debounce_mode
//
// Load(path) applies defaults before unmarshalling, then validates. Rules are
// carried as raw RuleConfig values and validated by the alarm engine so one
// bad rule never prevents the rest from loading.
//
// Watch(ctx, path, onChange) reloads the file on change and hands the new
// Config to onChange; a reload that fails validation keeps the old config.
package config
