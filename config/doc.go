// Package config loads the gateway configuration from a YAML file and
// environment variables. It covers the listen address and timeouts, the
// analytics backend location, health probing, circuit breaking, rate
// limiting, CORS, metrics and logging.
package config
