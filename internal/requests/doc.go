// Package requests persists generation requests in SQLite: enqueue, FIFO
// pending selection per workflow kind, and idempotent terminal transitions
// (the first completed/failed write wins, later writes are no-ops).
package requests
