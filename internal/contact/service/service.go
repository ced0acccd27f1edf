package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idresolve/internal/contact/engine"
	"idresolve/internal/contact/events"
	"idresolve/internal/contact/metrics"
	"idresolve/internal/contact/models"
	"idresolve/internal/contact/ports"
	dErrors "idresolve/pkg/domain-errors"
	"idresolve/pkg/platform/sentinel"
	"idresolve/pkg/requestcontext"
)

const (
	defaultMaxAttempts     = 4
	defaultInitialInterval = 25 * time.Millisecond
	defaultMaxInterval     = 500 * time.Millisecond
)

// RetryPolicy bounds how often a conflicting identify is rerun.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Service resolves observations into consolidated identities.
type Service struct {
	store   ports.ContactStore
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	retry   RetryPolicy
	clock   func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRetry overrides the conflict retry policy. Non-positive fields keep the default.
func WithRetry(p RetryPolicy) Option {
	return func(s *Service) {
		if p.MaxAttempts > 0 {
			s.retry.MaxAttempts = p.MaxAttempts
		}
		if p.InitialInterval > 0 {
			s.retry.InitialInterval = p.InitialInterval
		}
		if p.MaxInterval > 0 {
			s.retry.MaxInterval = p.MaxInterval
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service.
func New(store ports.ContactStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("contact store is required")
	}
	s := &Service{
		store:  store,
		engine: engine.New(),
		logger: slog.Default(),
		tracer: otel.Tracer("idresolve/contact"),
		retry: RetryPolicy{
			MaxAttempts:     defaultMaxAttempts,
			InitialInterval: defaultInitialInterval,
			MaxInterval:     defaultMaxInterval,
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Identify consolidates the observation into its cluster and returns the
// cluster's view. The read-decide-write cycle runs under the store's lock on
// the observation's keys and is rerun on lock conflicts.
func (s *Service) Identify(ctx context.Context, email, phoneNumber string) (models.Identity, error) {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "contact.Identify")
	defer span.End()
	defer func() {
		s.metrics.ObserveIdentifyLatency(s.clock().Sub(start))
	}()

	obs, err := models.NewObservation(email, phoneNumber)
	if err != nil {
		s.metrics.IncrementIdentify(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "invalid observation")
		return models.Identity{}, err
	}
	span.SetAttributes(
		attribute.Bool("contact.has_email", obs.Email != ""),
		attribute.Bool("contact.has_phone", obs.PhoneNumber != ""),
	)

	requestID := requestcontext.RequestID(ctx)
	var (
		outcome  engine.Outcome
		attempts int
	)
	op := func() error {
		attempts++
		if attempts > 1 {
			s.metrics.IncrementRetries()
		}
		err := s.store.RunInTx(ctx, obs.LockKeys(), func(tx ports.ContactTx) error {
			candidates, err := tx.FindConnected(ctx, obs)
			if err != nil {
				return err
			}
			out, err := s.engine.Consolidate(ctx, tx, obs, candidates)
			if err != nil {
				return err
			}
			if evs := events.FromOutcome(out, requestID, s.occurredAt(ctx)); len(evs) > 0 {
				if err := tx.AppendEvents(ctx, evs); err != nil {
					return err
				}
			}
			outcome = out
			return nil
		})
		if err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	err = backoff.Retry(op, s.backoff(ctx))
	span.SetAttributes(attribute.Int("contact.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		return models.Identity{}, s.translate(ctx, err, requestID, attempts)
	}

	result := metrics.ResultLookup
	if outcome.Wrote() {
		result = metrics.ResultWrite
		s.metrics.RecordWrites(outcome.Created, len(outcome.Demoted), len(outcome.Relinked))
		s.logger.InfoContext(ctx, "contact cluster updated",
			"request_id", requestID,
			"primary_contact_id", outcome.Identity.PrimaryID,
			"created", len(outcome.Created),
			"demoted", len(outcome.Demoted),
			"relinked", len(outcome.Relinked),
			"attempts", attempts,
		)
	}
	s.metrics.IncrementIdentify(result)
	span.SetAttributes(attribute.Int64("contact.primary_id", int64(outcome.Identity.PrimaryID)))
	return outcome.Identity, nil
}

// Lookup returns the view of the cluster containing id. It takes no locks and
// may observe a cluster mid-merge from another request's point of view.
func (s *Service) Lookup(ctx context.Context, id models.ContactID) (models.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "contact.Lookup", trace.WithAttributes(attribute.Int64("contact.id", int64(id))))
	defer span.End()

	cluster, err := s.store.FindCluster(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Identity{}, dErrors.New(dErrors.CodeNotFound, "contact not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		s.logger.ErrorContext(ctx, "contact lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"contact_id", id,
			"error", err,
		)
		return models.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contact")
	}
	identity, err := engine.IdentityOf(cluster)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored cluster violates invariants",
			"request_id", requestcontext.RequestID(ctx),
			"contact_id", id,
			"error", err,
		)
		return models.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contact")
	}
	return identity, nil
}

func (s *Service) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.MaxAttempts-1)), ctx)
}

// translate maps a failed identify onto the caller-facing codes. Store and
// engine detail stays in the log.
func (s *Service) translate(ctx context.Context, err error, requestID string, attempts int) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncrementIdentify(metrics.ResultConflict)
		s.logger.WarnContext(ctx, "identify gave up after lock conflicts",
			"request_id", requestID,
			"attempts", attempts,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeConflict, "contact is being updated concurrently, retry later")
	case dErrors.HasCode(err, dErrors.CodeTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.metrics.IncrementIdentify(metrics.ResultError)
		s.logger.WarnContext(ctx, "identify aborted",
			"request_id", requestID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		s.metrics.IncrementIdentify(metrics.ResultError)
		s.logger.ErrorContext(ctx, "contact invariant violated",
			"request_id", requestID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to identify contact")
	default:
		s.metrics.IncrementIdentify(metrics.ResultError)
		s.logger.ErrorContext(ctx, "identify failed",
			"request_id", requestID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to identify contact")
	}
}

// occurredAt stamps events with the request start time when the HTTP layer
// recorded one, so every event of a request shares it.
func (s *Service) occurredAt(ctx context.Context) time.Time {
	if t, ok := requestcontext.Time(ctx); ok {
		return t
	}
	return s.clock()
}
