package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redeemRoute = "/api/v1/cards/:code/redeem"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		DefaultLimit:   100,
		DefaultBurst:   10,
		AnonymousLimit: 30,
		AnonymousBurst: 5,
		RedisPrefix:    "rl",
		EndpointOverrides: map[string]config.EndpointRateLimitConfig{
			redeemRoute:          {AuthenticatedLimit: 20, AuthenticatedBurst: 0, AnonymousLimit: 0, AnonymousBurst: -1, WindowSeconds: 10},
			"/api/v1/cards/bulk": {AuthenticatedLimit: 2, AuthenticatedBurst: -1},
		},
	}
}

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	return NewLimiter(client, cfg).WithNow(func() time.Time { return fixedNow }), mock
}

func TestRuleFor(t *testing.T) {
	limiter, _ := newTestLimiter(t, testConfig())

	tests := []struct {
		name     string
		endpoint string
		identity IdentityType
		want     Rule
	}{
		{"authenticated default", "/api/v1/cards", IdentityAuthenticated, Rule{Limit: 100, Burst: 10, Window: time.Minute}},
		{"anonymous default", "/api/v1/cards", IdentityAnonymous, Rule{Limit: 30, Burst: 5, Window: time.Minute}},
		{"redeem override for a user", redeemRoute, IdentityAuthenticated, Rule{Limit: 20, Burst: 0, Window: 10 * time.Second}},
		// a zero limit and negative burst in the override keep the defaults
		{"redeem override for anonymous", redeemRoute, IdentityAnonymous, Rule{Limit: 30, Burst: 5, Window: 10 * time.Second}},
		{"bulk issue keeps default window", "/api/v1/cards/bulk", IdentityAuthenticated, Rule{Limit: 2, Burst: 10, Window: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, limiter.RuleFor(tt.endpoint, tt.identity))
		})
	}
}

func TestRuleFor_ClampsNegativeBurst(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultBurst = -3
	limiter, _ := newTestLimiter(t, cfg)

	assert.Zero(t, limiter.RuleFor("/api/v1/cards", IdentityAuthenticated).Burst)
}

func TestAllow_SkipsRedis(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		rule    Rule
	}{
		{"limiter disabled", false, Rule{Limit: 10, Window: time.Minute}},
		{"zero limit", true, Rule{Limit: 0, Window: time.Minute}},
		{"negative limit", true, Rule{Limit: -1, Window: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Enabled = tt.enabled
			limiter, mock := newTestLimiter(t, cfg)

			result, err := limiter.Allow(context.Background(), redeemRoute, "user-1", tt.rule, IdentityAuthenticated)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, tt.rule.Limit, result.Remaining)
			assert.Equal(t, redeemRoute, result.EndpointKey)
			assert.Equal(t, "user-1", result.IdentityKey)
			// no command was expected, so any call would fail this
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAllow_EvaluatesTokenBucket(t *testing.T) {
	now := float64(fixedNow.UnixNano()) / float64(time.Second)
	rule := Rule{Limit: 10, Burst: 2, Window: 10 * time.Second}

	tests := []struct {
		name        string
		reply       []interface{}
		wantAllowed bool
		wantRemain  int
		wantRetry   time.Duration
		wantReset   time.Duration
	}{
		{"token available", []interface{}{int64(1), int64(9), "0", "0.6"}, true, 9, 0, 600 * time.Millisecond},
		{"bucket empty", []interface{}{int64(0), int64(0), "1.5", "6"}, false, 0, 1500 * time.Millisecond, 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, mock := newTestLimiter(t, testConfig())
			mock.ExpectEvalSha(limiter.script.Hash(), []string{"rl:" + redeemRoute + ":user-1"},
				12, formatFloat(1), formatFloat(now), 20).SetVal(tt.reply)

			result, err := limiter.Allow(context.Background(), redeemRoute, "user-1", rule, IdentityAuthenticated)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.wantRemain, result.Remaining)
			assert.Equal(t, tt.wantRetry, result.RetryAfter)
			assert.Equal(t, tt.wantReset, result.ResetAfter)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAllow_ZeroWindowUsesConfig(t *testing.T) {
	limiter, mock := newTestLimiter(t, testConfig())
	now := float64(fixedNow.UnixNano()) / float64(time.Second)

	// 60 tokens per 60s is one per second, ttl is twice the window
	mock.ExpectEvalSha(limiter.script.Hash(), []string{"rl:/api/v1/cards:10.0.0.1"},
		60, formatFloat(1), formatFloat(now), 120).SetVal([]interface{}{int64(1), int64(59), "0", "1"})

	result, err := limiter.Allow(context.Background(), "/api/v1/cards", "10.0.0.1", Rule{Limit: 60}, IdentityAnonymous)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, result.Window)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_RedisErrorsFailOpen(t *testing.T) {
	limiter, mock := newTestLimiter(t, testConfig())
	now := float64(fixedNow.UnixNano()) / float64(time.Second)
	rule := Rule{Limit: 10, Window: 10 * time.Second}

	mock.ExpectEvalSha(limiter.script.Hash(), []string{"rl:/x:user-1"},
		10, formatFloat(1), formatFloat(now), 20).SetErr(errors.New("connection refused"))

	result, err := limiter.Allow(context.Background(), "/x", "user-1", rule, IdentityAuthenticated)
	require.Error(t, err)
	assert.True(t, result.Allowed)
}

func TestReplyConversions(t *testing.T) {
	tests := []struct {
		in        interface{}
		wantInt   int
		wantFloat float64
	}{
		{int64(7), 7, 7},
		{int(3), 3, 3},
		{float64(2.5), 2, 2.5},
		{"4", 4, 4},
		{"0.25", 0, 0.25},
		{"nope", 0, 0},
		{nil, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wantInt, toInt(tt.in), "toInt(%v)", tt.in)
		assert.Equal(t, tt.wantFloat, toFloat(tt.in), "toFloat(%v)", tt.in)
	}
	assert.Equal(t, "0.1000000000", formatFloat(0.1))
}
