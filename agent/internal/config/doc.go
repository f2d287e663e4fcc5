// Package config loads and watches the agent configuration file.
//
// Top-level types:
//   - Config{Agent}
//   - AgentConfig: server_endpoint, scrape_interval, ship_interval,
//     buffer_size, server_auth, sources[]
//   - Source: id, endpoint, auth, tls, prefix, tags[]
//   - TagMapping: name, metric, labels; maps one metric family to one tag
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) applies defaults (30s scrape, 15s ship, buffer 1000) and then
// validates required fields and enums.
//
// Watch(ctx, path, onChange) reloads the file on change and calls onChange
// with the new Config. Invalid reloads are logged and skipped.
package config
