package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/config"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/circuitbreaker"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/handler"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/healthcheck"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/httpserver"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/metrics"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/middleware"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/pkg/logger"
)

func main() {
	// A .env file is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("err", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := initializeBackend(cfg)
	if err != nil {
		log.Error("Failed to initialize backend client",
			slog.String("url", cfg.Backend.BaseURL),
			slog.Any("err", err))
		os.Exit(1)
	}

	exporter := metrics.NewExporter()
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log, exporter)
	collector.Start(ctx)

	if cfg.HealthCheck.Enabled {
		go healthcheck.HealthCheck(ctx, client, healthcheck.Options{
			Path:     cfg.HealthCheck.Path,
			Interval: cfg.HealthCheck.IntervalDuration(),
			Timeout:  cfg.HealthCheck.TimeoutDuration(),
		}, collector, log)
	}

	forwarder := handler.NewForwarder(log, client, collector)
	router := setupRouter(cfg.Server.RoutePrefix, forwarder, client, collector, exporter)

	srv, err := httpserver.New(cfg.Server.Address, wrapMiddleware(ctx, cfg, log, router),
		httpserver.WithReadTimeout(cfg.Server.ReadTimeoutDuration()),
		httpserver.WithWriteTimeout(cfg.Server.WriteTimeoutDuration()),
		httpserver.WithIdleTimeout(cfg.Server.IdleTimeoutDuration()),
		httpserver.WithShutdownTimeout(cfg.Server.ShutdownTimeoutDuration()),
	)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("ML gateway listening",
			slog.String("addr", cfg.Server.Address),
			slog.String("backend", client.URL().String()),
			slog.Duration("backend_timeout", client.Timeout()))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting ML gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// initializeBackend builds the analytics client from config. Circuit
// breakers are attached only when a failure threshold is set.
func initializeBackend(cfg *config.Config) (*backend.Client, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, err
	}

	opts := []backend.Option{backend.WithTimeout(cfg.Backend.TimeoutDuration())}
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		opts = append(opts, backend.WithBreakers(circuitbreaker.NewRegistry(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.ResetTimeoutDuration(),
		)))
	}

	return backend.NewClient(u, opts...), nil
}

func wrapMiddleware(ctx context.Context, cfg *config.Config, log *slog.Logger, next http.Handler) http.Handler {
	mws := []middleware.Middleware{
		middleware.RequestID(),
		middleware.AccessLog(log),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	}

	if cfg.RateLimit.Enabled {
		store := middleware.NewLimiterStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		store.StartJanitor(ctx)

		var opts []middleware.RateLimitOption
		if cfg.RateLimit.Stats.Enabled() {
			sink := middleware.NewStatsSink(newRateStats(ctx, cfg.RateLimit.Stats, log), cfg.RateLimit.Stats.BufferSize, log)
			sink.Start(ctx)
			opts = append(opts, middleware.WithStats(sink))
		}

		mws = append(mws, middleware.RateLimit(store, func(w http.ResponseWriter) {
			handler.WriteError(w, http.StatusTooManyRequests, handler.MsgRateLimitExceeded)
		}, opts...))
	}

	return middleware.Chain(next, mws...)
}

// newRateStats connects to the Redis stats sink. An unreachable Redis is
// logged and tolerated; decisions are still enforced locally.
func newRateStats(ctx context.Context, cfg config.RateStatsConfig, log *slog.Logger) *middleware.RedisStats {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Rate limit stats Redis unreachable",
			slog.String("addr", cfg.RedisAddr),
			slog.Any("err", err))
	}

	go func() {
		<-ctx.Done()
		_ = rdb.Close()
	}()

	return middleware.NewRedisStats(rdb, cfg.Prefix, cfg.TTLDuration())
}
