// Package api defines the JSON wire types shared by the daemon's HTTP
// server and the CLI client, plus the client itself.
package api
