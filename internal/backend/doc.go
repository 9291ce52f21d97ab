// Package backend is the client for the analytics (ML) service. It issues
// bounded GET calls, relays JSON bodies untouched and classifies failures
// into the kinds the HTTP handlers map to status codes.
package backend
