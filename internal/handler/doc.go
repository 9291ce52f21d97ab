// Package handler implements the HTTP routes that forward requests to the
// analytics backend and relay its JSON, translating backend failures into
// the gateway's error envelopes.
package handler
