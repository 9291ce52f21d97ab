// Package metrics collects per-route gateway metrics.
//
// Handlers and background probes emit MetricEvent values onto a buffered
// channel; a single collector goroutine folds them into:
//   - Request counts per route
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Upstream failure counts by kind
//   - Analytics backend health
//
// Emit never blocks: when the buffer is full the event is dropped, so a slow
// collector cannot stall the request path.
//
// Example usage:
//
//	exporter := metrics.NewExporter()
//	collector := metrics.NewCollector(1000, logger, exporter)
//	collector.Start(ctx)
//
//	mux.Handle("GET /recomendacoes", collector.Instrument("recomendacoes", h))
//	mux.Handle("GET /metrics", exporter.Handler())
//	mux.Handle("GET /metrics/snapshot", collector.Handler())
//
// On context cancellation the collector drains queued events before exiting.
package metrics
