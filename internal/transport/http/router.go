// Package httptransport composes the register's HTTP surface: the admin API
// behind the admin token, the operator API behind bearer access tokens, and
// the unauthenticated platform endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"nser/internal/platform/metrics"
	"nser/pkg/platform/httputil"
	"nser/pkg/platform/middleware/admin"
	"nser/pkg/platform/middleware/auth"
	"nser/pkg/platform/middleware/metadata"
	"nser/pkg/platform/middleware/request"
	"nser/pkg/platform/middleware/requesttime"
)

type AdminRoutes interface {
	RegisterAdmin(r chi.Router)
}

type OperatorRoutes interface {
	RegisterOperator(r chi.Router)
}

type PublicRoutes interface {
	RegisterPublic(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config is everything the router needs.
type Config struct {
	AdminToken     string
	OperatorAuth   auth.TokenValidator
	Admin          []AdminRoutes
	Operator       []OperatorRoutes
	Public         []PublicRoutes
	// OperatorLimit and PublicLimit are optional rate limit middleware.
	OperatorLimit  func(http.Handler) http.Handler
	PublicLimit    func(http.Handler) http.Handler
	HealthChecks   map[string]HealthCheck
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter wires all endpoints.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(instrument(cfg.Metrics))

	r.Get("/healthz", healthz(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.PublicLimit != nil {
			r.Use(cfg.PublicLimit)
		}
		for _, p := range cfg.Public {
			p.RegisterPublic(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
		for _, a := range cfg.Admin {
			a.RegisterAdmin(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(cfg.OperatorAuth, cfg.Logger))
		if cfg.OperatorLimit != nil {
			r.Use(cfg.OperatorLimit)
		}
		for _, o := range cfg.Operator {
			o.RegisterOperator(r)
		}
	})
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}

// instrument records per-route request counts and latency, labelled by the
// chi route pattern so ids do not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, strconv.Itoa(status/100)+"xx", time.Since(start).Seconds())
		})
	}
}
