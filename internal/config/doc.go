// Package config loads and validates the TOML configuration for the kiln
// daemon: paths, cloud provider credentials, GPU priority lists, backend
// polling bounds, scheduler timing, and per-workflow scheduling policy.
package config
