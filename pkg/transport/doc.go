// Package transport holds the HTTP plumbing shared by the toolbridge API:
// the service interfaces the handlers depend on, JSON error responses
// derived from the orchestration error taxonomy, and the middleware chain
// (panic recovery, X-Request-ID assignment, access logging).
//
// The routes themselves live in the http subpackage.
package transport
