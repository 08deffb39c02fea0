// Package httpmw provides HTTP middleware for the addon gateway.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// recovery, security headers, request ID, client IP extraction, rate
// limiting, OTEL tracing, metrics, structured logging, and chi router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. Secrets embedded in addon config
// paths are never logged; the access log records the route pattern, not
// the raw path, for configured routes.
package httpmw
