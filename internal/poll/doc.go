// Package poll provides the bounded retry loop used for pod readiness and
// job completion waits, so the attempt/interval policy is defined once.
package poll
