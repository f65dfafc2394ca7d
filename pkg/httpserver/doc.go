// Package httpserver wraps net/http with graceful shutdown on context
// cancellation or interrupt/TERM, env-tagged timeout configuration, and a
// probe handler for liveness and readiness endpoints.
package httpserver
