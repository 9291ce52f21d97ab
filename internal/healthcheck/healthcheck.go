package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/metrics"
)

// Options control how the analytics backend is probed.
type Options struct {
	Path     string
	Interval time.Duration
	Timeout  time.Duration
}

// HealthCheck probes the backend once immediately and then every
// opts.Interval until ctx is cancelled. Health transitions update the
// client, are logged and are emitted to collector (which may be nil).
func HealthCheck(
	ctx context.Context,
	client *backend.Client,
	opts Options,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		check(ctx, client, opts, collector, logger)

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("server", client.URL().String()))
			return
		case <-ticker.C:
		}
	}
}

func check(ctx context.Context, client *backend.Client, opts Options, collector *metrics.Collector, logger *slog.Logger) {
	err := client.Probe(ctx, opts.Path, opts.Timeout)
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	if !client.SetHealthy(healthy) {
		return
	}

	collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Healthy: healthy})

	if healthy {
		logger.Info("ML service is back up",
			slog.String("server", client.URL().String()))
	} else {
		logger.Warn("ML service is down",
			slog.String("server", client.URL().String()),
			slog.Any("err", err))
	}
}
