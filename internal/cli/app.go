package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"idresolve/internal/contact/events"
	contactmetrics "idresolve/internal/contact/metrics"
	"idresolve/internal/contact/ports"
	"idresolve/internal/contact/service"
	"idresolve/internal/contact/store"
	"idresolve/internal/platform/config"
	"idresolve/internal/platform/logger"
	"idresolve/internal/platform/postgres"
)

// contactStore is what the process needs from a backend: the service's port
// plus the outbox the relay drains.
type contactStore interface {
	ports.ContactStore
	events.Outbox
}

// app is the wired process shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *contactmetrics.Metrics
	db       *sql.DB
	store    contactStore
	service  *service.Service
	closers  []func() error
}

// newApp opens the configured store and builds the contact service. Logs go
// to logOut.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger.NewWithWriter(cfg.Log, logOut),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = contactmetrics.NewWith(a.registry)

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = st

	a.service, err = service.New(st,
		service.WithLogger(a.logger),
		service.WithMetrics(a.metrics),
		service.WithRetry(service.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
	)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (contactStore, error) {
	switch a.cfg.Database.Backend {
	case config.BackendMemory:
		a.logger.Warn("using in-memory contact store; data is lost on exit")
		return store.NewInMemory(), nil
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		return store.NewPostgres(db,
			store.WithTxTimeout(a.cfg.Database.TxTimeout),
			store.WithLockTimeout(a.cfg.Database.LockTimeout),
		), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Database.Backend)
	}
}

// migrate applies the contact schema. The memory backend has none.
func (a *app) migrate(ctx context.Context) ([]string, error) {
	if a.db == nil {
		return nil, nil
	}
	applied, err := postgres.Migrate(ctx, a.db, store.Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate contact schema: %w", err)
	}
	return applied, nil
}

// publisher returns the Kafka publisher when brokers are configured and the
// log publisher otherwise.
func (a *app) publisher() (events.Publisher, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("no kafka brokers configured; contact events are logged")
		return events.NewLogPublisher(a.logger), nil
	}
	p, err := events.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.cfg.Kafka.ClientID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		p.Close()
		return nil
	})
	return p, nil
}

func (a *app) relay(publisher events.Publisher) *events.Relay {
	return events.NewRelay(a.store, publisher,
		events.WithRelayLogger(a.logger),
		events.WithRelayMetrics(a.metrics),
		events.WithPollInterval(a.cfg.Outbox.PollInterval),
		events.WithBatchSize(a.cfg.Outbox.BatchSize),
	)
}

// close releases resources in reverse acquisition order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
