// Package handler implements the gateway HTTP surface: the /api/{service}/...
// passthrough that forwards calls through the service router, and the
// operational endpoints for health, circuit and cache state.
package handler
