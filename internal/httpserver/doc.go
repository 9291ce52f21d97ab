// Package httpserver runs the gateway's listener with configurable timeouts
// and graceful shutdown.
package httpserver
