// Package middleware enforces per-tenant request budgets on the entity API.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"entitystore/internal/ratelimit/metrics"
	"entitystore/internal/ratelimit/models"
	"entitystore/pkg/platform/circuit"
	"entitystore/pkg/platform/httputil"
	"entitystore/pkg/requestcontext"
)

var errBreakerOpen = errors.New("rate limit store circuit open")

// BucketStore checks and records one request against key's budget.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	metrics  *metrics.Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback answers checks from fallback while the primary store is
// failing.
func WithFallback(fallback BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = fallback
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func New(primary BucketStore, limits map[models.EndpointClass]models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limits:  limits,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breaker == nil {
		m.breaker = circuit.New("ratelimit-store")
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimitTenant limits requests per tenant and class. It must run after the
// tenant is in the request context. Store errors fail open.
func (m *Middleware) RateLimitTenant(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			limit, ok := m.limits[class]
			tenantID := requestcontext.TenantID(r.Context())
			if !ok || limit.RequestsPerWindow <= 0 || tenantID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, degraded, err := m.check(ctx, models.NewTenantKey(tenantID, class), limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check tenant rate limit",
					"error", err,
					"tenant_id", tenantID,
					"class", string(class),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				m.metrics.IncRejected(string(class))
				m.logger.WarnContext(ctx, "tenant rate limit exceeded",
					"tenant_id", tenantID,
					"class", string(class),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByClass picks the class from the request.
func (m *Middleware) RateLimitByClass() func(http.Handler) http.Handler {
	read := m.RateLimitTenant(models.ClassRead)
	write := m.RateLimitTenant(models.ClassWrite)
	return func(next http.Handler) http.Handler {
		readNext, writeNext := read(next), write(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if models.ClassForRequest(r) == models.ClassRead {
				readNext.ServeHTTP(w, r)
				return
			}
			writeNext.ServeHTTP(w, r)
		})
	}
}

// check asks the primary store unless the breaker is open, in which case the
// fallback answers. degraded reports a fallback answer.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool, error) {
	if m.breaker.Allow() {
		result, err := m.primary.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
		if err == nil {
			if _, change := m.breaker.RecordSuccess(); change.Closed {
				m.logger.InfoContext(ctx, "rate limit store recovered")
			}
			return result, false, nil
		}
		m.metrics.IncStoreErrors()
		open, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store failing, using fallback", "error", err)
		}
		if !open || m.fallback == nil {
			return nil, false, err
		}
	} else if m.fallback == nil {
		return nil, false, errBreakerOpen
	}

	m.metrics.IncFallbackUsed()
	result, err := m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	return result, true, err
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
		Message:    "tenant request budget exhausted, retry later",
		RetryAfter: result.RetryAfter,
	})
}
