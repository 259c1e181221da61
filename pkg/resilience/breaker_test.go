package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unreachable")

func failing(ctx context.Context) (interface{}, error) { return nil, errBroker }

func TestBuildSettings(t *testing.T) {
	tests := []struct {
		name string
		got  Settings
		want Settings
	}{
		{
			name: "explicit values",
			got:  BuildSettings("nats", 10*time.Second, 5*time.Second, 3, 2),
			want: Settings{Name: "nats", Interval: 10 * time.Second, Timeout: 5 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
		},
		{
			name: "defaults",
			got:  BuildSettings("nats", 0, -1, 0, 0),
			want: Settings{Name: "nats", Interval: time.Minute, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestCircuitBreaker_PassesThroughWhileClosed(t *testing.T) {
	b := NewCircuitBreaker(BuildSettings("closed-test", time.Minute, time.Minute, 3, 1), nil)

	result, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = b.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, errBroker)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker(BuildSettings("open-test", time.Minute, time.Minute, 2, 1), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, failing)
		assert.ErrorIs(t, err, errBroker)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(BuildSettings("recover-test", time.Minute, 20*time.Millisecond, 1, 1), nil)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, b.State())

	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_CancelledCallerDoesNotTrip(t *testing.T) {
	b := NewCircuitBreaker(BuildSettings("cancel-test", time.Minute, time.Minute, 1, 1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Execute(ctx, failing)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_Fallback(t *testing.T) {
	fallback := func(ctx context.Context, err error) (interface{}, error) {
		return "cached", nil
	}
	b := NewCircuitBreaker(BuildSettings("fallback-test", time.Minute, time.Minute, 1, 1), fallback)

	_, _ = b.Execute(context.Background(), failing)
	result, err := b.Execute(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestGracefulDegradation(t *testing.T) {
	_, err := GracefulDegradation("nats")(context.Background(), gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestNextBreakerName(t *testing.T) {
	assert.Equal(t, "nats", nextBreakerName("nats"))
	first, second := nextBreakerName(""), nextBreakerName("")
	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "breaker-")
}

func TestBreakerStateValue(t *testing.T) {
	assert.Equal(t, 0.0, breakerStateValue(gobreaker.StateClosed))
	assert.Equal(t, 0.5, breakerStateValue(gobreaker.StateHalfOpen))
	assert.Equal(t, 1.0, breakerStateValue(gobreaker.StateOpen))
}
