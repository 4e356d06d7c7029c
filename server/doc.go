// Package server exposes devflow over HTTP using Gin with h2c support.
//
// The server follows the component pattern with lifecycle management,
// health endpoints and net/http middleware applied around the whole
// handler, so SSE streams get the same request id and logging as JSON
// routes.
//
// # Routes
//
// API registers the run control API under /api/v1: flow registration and
// planning, run start, live status, event streams, debug stepping and
// manual retry decisions.
//
// # Middleware
//
// Built-in middleware (server/middleware):
//
//   - Recovery: panic recovery rendering INTERNAL_ERROR
//   - RequestID: X-Request-Id generation and propagation
//   - CORS: cross-origin resource sharing
//   - BodySizeLimit: request body size limits
//   - RequestLogger: request logging with duration tracking
package server
