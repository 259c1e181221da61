package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/giftcard-ledger/pkg/config"
)

// IdentityType distinguishes authenticated callers from anonymous ones
type IdentityType int

const (
	IdentityAnonymous IdentityType = iota
	IdentityAuthenticated
)

// Rule is a token bucket: Limit tokens refill per Window, plus Burst headroom
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Result describes the outcome of a single Allow call
type Result struct {
	Allowed      bool
	Remaining    int
	RetryAfter   time.Duration
	Limit        int
	Window       time.Duration
	ResetAfter   time.Duration
	IdentityKey  string
	EndpointKey  string
	IdentityType IdentityType
}

// KEYS[1] bucket key
// ARGV capacity, refill rate per second, now (seconds), ttl (seconds)
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

local allowed = 0
local retry_after = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry_after = (1 - tokens) / rate
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', KEYS[1], ttl)

local reset_after = (capacity - tokens) / rate
return {allowed, math.floor(tokens), tostring(retry_after), tostring(reset_after)}
`

// Limiter is a Redis backed token bucket limiter
type Limiter struct {
	client *redis.Client
	cfg    config.RateLimitConfig
	script *redis.Script
	now    func() time.Time
}

// NewLimiter creates a limiter using client for bucket state
func NewLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client: client,
		cfg:    cfg,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
	}
}

// WithNow overrides the clock
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// RuleFor resolves the rule for an endpoint, applying per-endpoint overrides
func (l *Limiter) RuleFor(endpoint string, identity IdentityType) Rule {
	rule := Rule{Window: l.cfg.Window()}
	if identity == IdentityAuthenticated {
		rule.Limit = l.cfg.DefaultLimit
		rule.Burst = l.cfg.DefaultBurst
	} else {
		rule.Limit = l.cfg.AnonymousLimit
		rule.Burst = l.cfg.AnonymousBurst
	}

	if override, ok := l.cfg.EndpointOverrides[endpoint]; ok {
		if identity == IdentityAuthenticated {
			if override.AuthenticatedLimit > 0 {
				rule.Limit = override.AuthenticatedLimit
			}
			if override.AuthenticatedBurst >= 0 {
				rule.Burst = override.AuthenticatedBurst
			}
		} else {
			if override.AnonymousLimit > 0 {
				rule.Limit = override.AnonymousLimit
			}
			if override.AnonymousBurst >= 0 {
				rule.Burst = override.AnonymousBurst
			}
		}
		if override.WindowSeconds > 0 {
			rule.Window = time.Duration(override.WindowSeconds) * time.Second
		}
	}

	if rule.Burst < 0 {
		rule.Burst = 0
	}
	return rule
}

// Allow consumes one token for identity on endpoint
func (l *Limiter) Allow(ctx context.Context, endpoint, identity string, rule Rule, identityType IdentityType) (Result, error) {
	result := Result{
		Allowed:      true,
		Remaining:    rule.Limit,
		Limit:        rule.Limit,
		Window:       rule.Window,
		IdentityKey:  identity,
		EndpointKey:  endpoint,
		IdentityType: identityType,
	}

	if !l.cfg.Enabled || rule.Limit <= 0 {
		return result, nil
	}

	window := rule.Window
	if window <= 0 {
		window = l.cfg.Window()
		result.Window = window
	}

	capacity := rule.Limit + rule.Burst
	rate := float64(rule.Limit) / window.Seconds()
	now := float64(l.now().UnixNano()) / float64(time.Second)
	ttl := int(math.Ceil(window.Seconds())) * 2

	raw, err := l.script.Run(ctx, l.client, []string{l.key(endpoint, identity)},
		capacity, formatFloat(rate), formatFloat(now), ttl).Result()
	if err != nil {
		return result, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) < 4 {
		return result, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	result.Allowed = toInt(values[0]) == 1
	result.Remaining = toInt(values[1])
	result.RetryAfter = time.Duration(toFloat(values[2]) * float64(time.Second))
	result.ResetAfter = time.Duration(toFloat(values[3]) * float64(time.Second))
	return result, nil
}

func (l *Limiter) key(endpoint, identity string) string {
	return fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, endpoint, identity)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 10, 64)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
