package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/middleware"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/ratelimit"
)

func newRateLimited(t *testing.T, rate int) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rl := middleware.NewRateLimit(ratelimit.NewLimiter(rdb, "salt"), map[ratelimit.Scope]ratelimit.LimitConfig{
		ratelimit.ScopeAPI: {Rate: rate, Window: time.Minute},
	}, zerolog.Nop())
	return rl.Limit(ratelimit.ScopeAPI)(ok), mr
}

func get(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/streams", nil)
	r.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRateLimit_PerClientIP(t *testing.T) {
	h, _ := newRateLimited(t, 2)

	assert.Equal(t, http.StatusOK, get(h, "1.2.3.4").Code)
	assert.Equal(t, http.StatusOK, get(h, "1.2.3.4").Code)

	w := get(h, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, get(h, "5.6.7.8").Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h, mr := newRateLimited(t, 1)
	mr.Close()

	assert.Equal(t, http.StatusOK, get(h, "1.2.3.4").Code)
	assert.Equal(t, http.StatusOK, get(h, "1.2.3.4").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Key(ratelimit.Scope, string) string { return "k" }
func (brokenLimiter) Allow(context.Context, ratelimit.Scope, string, ratelimit.LimitConfig) (*ratelimit.Decision, error) {
	return nil, errors.New("boom")
}

func TestRateLimit_UnsetScopeIsNoop(t *testing.T) {
	rl := middleware.NewRateLimit(brokenLimiter{}, nil, zerolog.Nop())
	assert.Equal(t, http.StatusOK, get(rl.Limit(ratelimit.ScopeViewer)(ok), "1.2.3.4").Code)

	var nilRL *middleware.RateLimit
	assert.Equal(t, http.StatusOK, get(nilRL.Limit(ratelimit.ScopeAPI)(ok), "1.2.3.4").Code)
}
