// Package services defines the sentinel errors shared by kiln's external
// service clients and the wrapping helper that tags failures for
// classification by the scheduler.
package services
