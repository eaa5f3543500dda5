package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/platform/metrics"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/middleware/metadata"
	"aegis/pkg/platform/middleware/request"
	"aegis/pkg/platform/middleware/requesttime"
	"aegis/pkg/platform/middleware/upstream"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Handler        *Handler
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	UpstreamToken  string
	RequestTimeout time.Duration
	Readiness      map[string]ReadinessCheck
	Logger         *slog.Logger
}

// NewRouter wires the middleware chain and all routes. Health and metrics
// endpoints sit outside the upstream token check.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
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
	r.Get("/readyz", readyHandler(cfg.Readiness))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(upstream.RequireToken(cfg.UpstreamToken, logger))
		v1.Use(chimw.Timeout(timeout))
		cfg.Handler.Register(v1)
	})
	return r
}

func readyHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, report)
	}
}
