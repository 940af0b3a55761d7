// Package scheduler matches queued generation requests to pod capacity. A
// periodic tick (also woken by enqueues and job completions) walks workflow
// kinds with pending work, claims requests onto running pods, asks the pod
// manager to create or resume pods when none fit, and follows every
// submitted job to a terminal state. Request rows are owned here; pod state
// is owned by the pods package.
package scheduler
