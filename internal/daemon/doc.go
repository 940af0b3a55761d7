// Package daemon hosts the long-running kiln process: single-instance
// locking, crash recovery for interrupted requests, and the HTTP API the CLI
// talks to.
package daemon
