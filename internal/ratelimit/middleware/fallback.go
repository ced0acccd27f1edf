package middleware

import (
	"context"
	"log/slog"
	"time"

	"idresolve/internal/ratelimit/metrics"
	"idresolve/internal/ratelimit/models"
	"idresolve/pkg/platform/circuit"
)

// BucketStore counts requests in a window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Limiter checks the per-IP identify budget against a primary store and falls
// back to an in-memory store while the primary is failing. Once the breaker
// opens, decisions come from the fallback until enough primary checks succeed
// in a row.
type Limiter struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type LimiterOption func(*Limiter)

func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLimiterMetrics(m *metrics.Metrics) LimiterOption {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) LimiterOption {
	return func(l *Limiter) {
		if b != nil {
			l.breaker = b
		}
	}
}

// NewLimiter builds a limiter. A nil primary serves every check from fallback.
func NewLimiter(primary, fallback BucketStore, limit int, window time.Duration, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("ratelimit-redis"),
		limit:    limit,
		window:   window,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckIP counts one identify request from ip.
func (l *Limiter) CheckIP(ctx context.Context, ip string) (*models.Result, error) {
	key := models.IdentifyIPKey(ip)
	if l.primary == nil {
		return l.fallback.Allow(ctx, key, l.limit, l.window)
	}

	result, err := l.primary.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		l.metrics.IncrementStoreErrors()
		_, change := l.breaker.RecordFailure()
		if change.Opened {
			l.metrics.SetDegraded(true)
			l.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
				"breaker", l.breaker.Name(),
				"error", err,
			)
		}
		return l.degraded(ctx, key)
	}

	usePrimary, change := l.breaker.RecordSuccess()
	if change.Closed {
		l.metrics.SetDegraded(false)
		l.logger.InfoContext(ctx, "rate limit store recovered", "breaker", l.breaker.Name())
	}
	if !usePrimary {
		return l.degraded(ctx, key)
	}
	return result, nil
}

func (l *Limiter) degraded(ctx context.Context, key string) (*models.Result, error) {
	result, err := l.fallback.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	result.Degraded = true
	return result, nil
}
