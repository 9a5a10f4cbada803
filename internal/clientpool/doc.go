// Package clientpool holds one long-lived HTTP client per downstream service.
//
// Each ServiceClient owns a keep-alive transport, a base URL, a default
// timeout and request/response size limits. The pool is built once at startup
// and is read-only afterwards, so lookups take no locks.
//
// Endpoint timeouts come from an ordered rule table: the first rule whose
// Contains string appears in the endpoint wins, otherwise the service timeout
// applies, otherwise the pool default (30s). The default rules give "/ai/" and
// "/generate" endpoints 120s.
package clientpool
