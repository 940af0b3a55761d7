// Package pods owns the lifecycle of provisioned GPU pods: creation against
// the cloud provider with GPU-type fallback, bounded readiness waits,
// capacity-limited request slots, idle pause and terminate deadlines, and
// connection address resolution. Pods move provisioning -> running <->
// paused -> terminated; the scheduler decides when pods are needed, this
// package decides everything after that.
package pods
