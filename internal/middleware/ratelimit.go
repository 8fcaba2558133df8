package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/ratelimit"
)

type Limiter interface {
	Key(scope ratelimit.Scope, ip string) string
	Allow(ctx context.Context, scope ratelimit.Scope, key string, cfg ratelimit.LimitConfig) (*ratelimit.Decision, error)
}

type RateLimit struct {
	limiter Limiter
	limits  map[ratelimit.Scope]ratelimit.LimitConfig
	log     zerolog.Logger
}

func NewRateLimit(l Limiter, limits map[ratelimit.Scope]ratelimit.LimitConfig, log zerolog.Logger) *RateLimit {
	return &RateLimit{limiter: l, limits: limits, log: log.With().Str("component", "ratelimit").Logger()}
}

// Limit counts requests per client IP against scope. Redis failures let
// the request through; a nil *RateLimit or an unset scope does nothing.
func (m *RateLimit) Limit(scope ratelimit.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.limiter == nil || !m.limits[scope].Enabled() {
			return next
		}
		cfg := m.limits[scope]
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			d, err := m.limiter.Allow(r.Context(), scope, m.limiter.Key(scope, ip), cfg)
			if err != nil {
				metrics.RateLimitDecisionsTotal.WithLabelValues(string(scope), "error").Inc()
				m.log.Warn().Err(err).Str("scope", string(scope)).Msg("rate limit check failed, allowing")
				next.ServeHTTP(w, r)
				return
			}

			writeRateLimitHeaders(w, d)
			if !d.Allowed {
				metrics.RateLimitDecisionsTotal.WithLabelValues(string(scope), "limited").Inc()
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			metrics.RateLimitDecisionsTotal.WithLabelValues(string(scope), "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
