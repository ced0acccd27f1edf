// Package httpserver builds the service's router and http.Server.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idresolve/internal/platform/config"
	"idresolve/internal/platform/metrics"
	"idresolve/pkg/platform/httputil"
	"idresolve/pkg/platform/middleware/metadata"
	"idresolve/pkg/platform/middleware/request"
	"idresolve/pkg/platform/middleware/requesttime"
)

// readyTimeout bounds all readiness checks together.
const readyTimeout = 2 * time.Second

// Routes is implemented by feature handlers.
type Routes interface {
	Register(r chi.Router)
}

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// Ready maps a dependency name to its check; /readyz fails if any fails.
	Ready  map[string]CheckFunc
	Routes []Routes
}

// NewRouter builds the chi router with the shared middleware chain, probes,
// and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	r.Use(metrics.LatencyMiddleware(cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(logger, cfg.Ready))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		for _, routes := range cfg.Routes {
			routes.Register(r)
		}
	})
	return r
}

func readyHandler(logger *slog.Logger, checks map[string]CheckFunc) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				logger.WarnContext(ctx, "readiness check failed",
					"request_id", request.GetRequestID(ctx),
					"dependency", name,
					"error", err,
				)
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}

// New builds an HTTP server with the configured address and sane timeouts.
func New(cfg config.Server, handler http.Handler) *http.Server {
	writeTimeout := cfg.RequestTimeout + 5*time.Second
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
