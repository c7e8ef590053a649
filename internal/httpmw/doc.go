// Package httpmw provides HTTP middleware for the API server.
//
// The request pipeline is composed in a fixed order in httpserver.NewHandler:
// security headers, panic recovery, request ID, client IP extraction, rate
// limiting, OTEL tracing, origin policy enforcement, metrics, structured
// logging, then the policy chain (authentication, version negotiation, cache
// profile selection) owned by the pipeline composer.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// arbitrary headers) is intentionally excluded from logs to prevent PII
// leaks and log injection.
package httpmw
