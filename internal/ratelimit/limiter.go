// Package ratelimit counts requests per client in fixed Redis windows.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

type Scope string

const (
	// ScopeAPI covers every management and viewer request.
	ScopeAPI Scope = "api"
	// ScopeViewer covers the calls that allocate engine resources for a
	// viewer: transport creation and consume.
	ScopeViewer Scope = "viewer"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

func (c LimitConfig) Enabled() bool {
	return c.Rate > 0 && c.Window > 0
}

// The window starts at the first hit and the key expires with it.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if tonumber(current) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type Limiter struct {
	client redis.Scripter
	salt   string
	now    func() time.Time
}

func NewLimiter(client redis.Scripter, salt string) *Limiter {
	if salt == "" {
		salt = "streams"
	}
	return &Limiter{client: client, salt: salt, now: time.Now}
}

// HashIP keeps raw client addresses out of Redis.
func (l *Limiter) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(sum[:])
}

func (l *Limiter) Key(scope Scope, ip string) string {
	return fmt.Sprintf("rl:%s:%s", scope, l.HashIP(ip))
}

// Allow records one hit against key.
func (l *Limiter) Allow(ctx context.Context, scope Scope, key string, cfg LimitConfig) (*Decision, error) {
	res, err := windowScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = cfg.Window
	}

	retry := int((ttl + time.Second - 1) / time.Second)
	return &Decision{
		Scope:      scope,
		Limit:      cfg.Rate,
		Remaining:  max(cfg.Rate-count, 0),
		Reset:      l.now().Add(ttl),
		RetryAfter: max(retry, 1),
		Allowed:    count <= cfg.Rate,
	}, nil
}
