// Package healthcheck periodically probes the analytics backend and records
// whether it is reachable. Health is informational: it feeds /health and
// metrics but never blocks forwarding.
package healthcheck
