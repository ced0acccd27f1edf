package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"idresolve/internal/contact/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Outbox hands out unpublished events in order. fn runs while the batch is
// claimed; the batch is marked published only when fn succeeds.
type Outbox interface {
	Drain(ctx context.Context, limit int, fn func(ctx context.Context, batch []Pending) error) (int, error)
}

// Publisher delivers a batch downstream. A batch is redelivered after any
// error, so consumers deduplicate on Event.ID.
type Publisher interface {
	Publish(ctx context.Context, batch []Pending) error
}

// Relay polls the outbox and forwards events to a Publisher.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(outbox Outbox, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Publish failures are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WarnContext(ctx, "event relay flush failed", "error", err)
			}
		}
	}
}

// Flush publishes batches until the outbox is empty or a batch fails, and
// returns how many events went out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.outbox.Drain(ctx, r.batchSize, r.publisher.Publish)
		if err != nil {
			r.metrics.IncrementPublishFailures()
			return total, err
		}
		total += n
		r.metrics.AddEventsPublished(n)
		if n < r.batchSize {
			if total > 0 {
				r.logger.DebugContext(ctx, "contact events published", "count", total)
			}
			return total, nil
		}
	}
}
