// Package main hosts the kiln CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: submitting generation requests, inspecting
// the queue, listing pods, and configuration scaffolding. Configuration
// resolution and client construction are centralized so subcommands focus on
// user experience instead of wiring.
package main
