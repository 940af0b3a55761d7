// Package workflows defines the closed set of supported generation
// workflow kinds, their typed parameter records, and the pure compiler
// that turns parameters into backend workflow graphs via embedded
// templates.
package workflows
