// Package cloud defines the GPU cloud provider boundary and a REST client
// for a RunPod-style pod API: create/start/stop/terminate, status lookups,
// GPU type and network volume listings, and proxy address construction.
package cloud
