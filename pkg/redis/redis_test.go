package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/richxcame/giftcard-ledger/pkg/config"
)

// ============== Redis Config Tests ==============

func TestRedisConfig_RedisAddr(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.RedisConfig
		expected string
	}{
		{"default localhost", config.RedisConfig{Host: "localhost", Port: "6379"}, "localhost:6379"},
		{"custom host and port", config.RedisConfig{Host: "redis.example.com", Port: "6380"}, "redis.example.com:6380"},
		{"empty values", config.RedisConfig{}, ":"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.RedisAddr(); got != tt.expected {
				t.Errorf("RedisAddr() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// ============== Client Helper Tests ==============

func TestSetIfAbsent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := Wrap(db)
	ctx := context.Background()

	mock.ExpectSetNX("idem:key-1", "pending", time.Hour).SetVal(true)
	mock.ExpectSetNX("idem:key-1", "pending", time.Hour).SetVal(false)

	first, err := client.SetIfAbsent(ctx, "idem:key-1", "pending", time.Hour)
	if err != nil || !first {
		t.Fatalf("first SetIfAbsent = %v, %v; want true, nil", first, err)
	}

	second, err := client.SetIfAbsent(ctx, "idem:key-1", "pending", time.Hour)
	if err != nil || second {
		t.Fatalf("second SetIfAbsent = %v, %v; want false, nil", second, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetString_Missing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := Wrap(db)

	mock.ExpectGet("missing").RedisNil()

	_, err := client.GetString(context.Background(), "missing")
	if !IsNil(err) {
		t.Errorf("expected redis nil, got %v", err)
	}
}

func TestSetWithExpirationAndDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := Wrap(db)
	ctx := context.Background()

	mock.ExpectSet("k", "v", time.Minute).SetVal("OK")
	mock.ExpectDel("k").SetVal(1)

	if err := client.SetWithExpiration(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithExpiration failed: %v", err)
	}
	if err := client.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIsNil(t *testing.T) {
	if !IsNil(goredis.Nil) {
		t.Error("redis.Nil should be reported as nil")
	}
	if IsNil(errors.New("connection refused")) {
		t.Error("other errors are not nil replies")
	}
	if IsNil(nil) {
		t.Error("nil error is not a nil reply")
	}
}
