package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const statsTimeout = 500 * time.Millisecond

// Decision is one rate limit outcome.
type Decision struct {
	Key     string
	Method  string
	Path    string
	Allowed bool
	At      time.Time
}

type StatsRecorder interface {
	Record(ctx context.Context, d Decision) error
}

// StatsSink feeds decisions to a recorder from a single worker goroutine.
// Record never blocks the request: when the buffer is full the decision is
// dropped and counted.
type StatsSink struct {
	recorder StatsRecorder
	logger   *slog.Logger
	eventCh  chan Decision
	dropped  atomic.Int64
}

func NewStatsSink(recorder StatsRecorder, bufferSize int, logger *slog.Logger) *StatsSink {
	return &StatsSink{
		recorder: recorder,
		logger:   logger,
		eventCh:  make(chan Decision, bufferSize),
	}
}

func (s *StatsSink) Start(ctx context.Context) {
	go s.run(ctx)
}

// Record queues d. It is safe on a nil sink.
func (s *StatsSink) Record(d Decision) {
	if s == nil {
		return
	}

	select {
	case s.eventCh <- d:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many decisions were discarded on a full buffer.
func (s *StatsSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *StatsSink) run(ctx context.Context) {
	for {
		select {
		case d := <-s.eventCh:
			s.write(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (s *StatsSink) write(ctx context.Context, d Decision) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	if err := s.recorder.Record(ctx, d); err != nil {
		s.logger.Warn("Failed to record rate limit decision",
			slog.String("key", d.Key),
			slog.Any("err", err))
	}
}

// RedisStats aggregates decisions in Redis hashes so several gateway
// replicas share one view:
//
//	{prefix}:total               allowed/denied, never expires
//	{prefix}:minute:YYYYMMDDhhmm allowed/denied, expires after ttl
//	{prefix}:route               "GET /path:allowed" style fields
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStats(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStats {
	return &RedisStats{
		rdb:    rdb,
		prefix: strings.Trim(prefix, ":"),
		ttl:    ttl,
	}
}

func (s *RedisStats) Record(ctx context.Context, d Decision) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := d.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if d.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(d.Method + " " + d.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}
