// Package middleware limits the operator API per authenticated operator and
// the public token exchange per client IP.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nser/internal/ratelimit/metrics"
	"nser/internal/ratelimit/models"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every limiter into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled && logger != nil {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerOperator limits by the authenticated operator. It must run after the
// operator auth middleware; requests without an operator pass through.
func (m *Middleware) PerOperator(policy models.Policy) func(http.Handler) http.Handler {
	return m.limit(models.ScopeOperator, policy, func(r *http.Request) string {
		operatorID := requestcontext.OperatorID(r.Context())
		if operatorID.IsNil() {
			return ""
		}
		return operatorID.String()
	})
}

// PerClientIP limits by the client address resolved by the metadata middleware.
func (m *Middleware) PerClientIP(policy models.Policy) func(http.Handler) http.Handler {
	return m.limit(models.ScopeClientIP, policy, func(r *http.Request) string {
		return requestcontext.ClientIP(r.Context())
	})
}

func (m *Middleware) limit(scope models.Scope, policy models.Policy, subject func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || !policy.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := subject(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, err := m.store.Allow(ctx, models.Key(scope, key), policy.Limit, policy.Window)
			if err != nil {
				m.metrics.IncrementStoreErrors()
				if m.logger != nil {
					m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
						"scope", scope,
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
				}
				next.ServeHTTP(w, r)
				return
			}
			m.metrics.ObserveCheck(string(scope), result.Allowed)

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.logger != nil {
					m.logger.WarnContext(ctx, "rate limit exceeded",
						"scope", scope,
						"path", r.URL.Path,
						"request_id", requestcontext.RequestID(ctx),
					)
				}
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
