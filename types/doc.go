// Package types holds the shared error taxonomy used across the loom
// service: structured error codes for compile failures, node execution
// failures, suspension timeouts and scheduler job errors, plus the
// HTTP status mapping consumed by the API layer.
package types
