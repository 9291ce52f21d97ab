// Package middleware holds the cross-cutting HTTP layers wrapped around the
// gateway routes: request IDs, access logging, CORS and optional per-client
// rate limiting.
package middleware
