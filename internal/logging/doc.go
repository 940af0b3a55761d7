// Package logging builds slog loggers with the console and JSON handlers
// used across the kiln daemon, plus the standardized attribute keys that
// keep request/pod/workflow fields consistent between components.
package logging
