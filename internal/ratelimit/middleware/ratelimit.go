// Package middleware enforces sliding-window request limits per endpoint class.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"watchtower/internal/ratelimit/models"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/requestcontext"
)

// BucketStore is implemented by the memory and Redis bucket stores.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store    BucketStore
	policies map[models.EndpointClass]models.Policy
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every limit into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithPolicy overrides the limit for one class.
func WithPolicy(class models.EndpointClass, policy models.Policy) Option {
	return func(m *Middleware) {
		if policy.Validate() == nil {
			m.policies[class] = policy
		}
	}
}

// DefaultPolicies apply when no override is configured.
func DefaultPolicies() map[models.EndpointClass]models.Policy {
	return map[models.EndpointClass]models.Policy{
		models.ClassSessionControl: {Limit: 20, Window: time.Minute},
		models.ClassRealtime:       {Limit: 30, Window: time.Minute},
		models.ClassRead:           {Limit: 120, Window: time.Minute},
	}
}

func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:    store,
		policies: DefaultPolicies(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits unauthenticated requests by client IP.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result, ok := m.check(ctx, models.Key(class, "ip", ip), class)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", string(class),
				)
				writeExceeded(w, models.ErrorRateLimited, class, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitAuthenticated limits requests by the verified identity. It must run
// after RequireAuth; requests without an identity pass through.
func (m *Middleware) RateLimitAuthenticated(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := requestcontext.UserID(ctx)
			if m.disabled || userID.IsNil() {
				next.ServeHTTP(w, r)
				return
			}

			result, ok := m.check(ctx, models.Key(class, "user", userID.String()), class)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "user rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"user_id", userID.String(),
					"class", string(class),
				)
				writeExceeded(w, models.ErrorUserRateLimited, class, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check fails open: a store error or an unknown class admits the request.
func (m *Middleware) check(ctx context.Context, key string, class models.EndpointClass) (*models.RateLimitResult, bool) {
	policy, ok := m.policies[class]
	if !ok {
		return nil, false
	}
	result, err := m.store.Allow(ctx, key, policy.Limit, policy.Window)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to check rate limit",
			"request_id", requestcontext.RequestID(ctx),
			"class", string(class),
			"error", err,
		)
		return nil, false
	}
	return result, true
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, code string, class models.EndpointClass, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.NewExceededResponse(code, class, result))
}
