package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"idresolve/internal/contact/handler"
	"idresolve/internal/platform/httpserver"
	platformmetrics "idresolve/internal/platform/metrics"
	platformredis "idresolve/internal/platform/redis"
	ratemetrics "idresolve/internal/ratelimit/metrics"
	ratemw "idresolve/internal/ratelimit/middleware"
	"idresolve/internal/ratelimit/store/bucket"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Migrate bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the event relay",
		Long: `Serve the identify API, health probes and /metrics, and relay committed
contact events from the outbox to Kafka (or the log when no brokers are set).

SIGINT or SIGTERM drains in-flight requests within the shutdown timeout.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply schema migrations before serving")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("error releasing resources", "error", err)
		}
	}()

	if opts.Migrate {
		applied, err := a.migrate(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("schema migrations applied", "count", len(applied))
	}

	limit, err := a.rateLimit(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	relay := a.relay(publisher)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         a.logger,
		Metrics:        platformmetrics.NewWith(a.registry),
		Gatherer:       a.registry,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          map[string]httpserver.CheckFunc{"store": a.store.Ping},
		Routes:         []httpserver.Routes{handler.New(a.service, a.logger, limit)},
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting idresolve", "addr", cfg.Server.Addr, "store", cfg.Database.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		// Events committed by the last requests go out before exit.
		if n, err := relay.Flush(shutdownCtx); err != nil {
			a.logger.Warn("final event flush failed", "error", err)
		} else if n > 0 {
			a.logger.Info("final event flush", "count", n)
		}
		return nil
	})
	return g.Wait()
}

// rateLimit builds the identify rate limit middleware. Redis is the primary
// counter when configured; the in-memory store covers outages and Redis-less
// deployments, so Redis is not a readiness dependency.
func (a *app) rateLimit(ctx context.Context) (func(http.Handler) http.Handler, error) {
	mt := ratemetrics.NewWith(a.registry)

	var primary ratemw.BucketStore
	if !a.cfg.RateLimit.Disabled {
		client, err := platformredis.New(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client != nil {
			a.closers = append(a.closers, client.Close)
			primary = bucket.NewRedis(client.Client)
		}
	}

	limiter := ratemw.NewLimiter(primary, bucket.NewInMemoryBucketStore(),
		a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window,
		ratemw.WithLimiterLogger(a.logger),
		ratemw.WithLimiterMetrics(mt),
	)
	mw := ratemw.New(limiter, a.logger,
		ratemw.WithDisabled(a.cfg.RateLimit.Disabled),
		ratemw.WithMetrics(mt),
	)
	return mw.RateLimit, nil
}
