package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/giftcard-ledger/pkg/config"
)

const (
	dialTimeout = 5 * time.Second
	ioTimeout   = time.Second
)

// Client backs the rate limiter and the idempotency store. Both fail open, so
// commands use short timeouts rather than holding up a ledger request.
type Client struct {
	*redis.Client
}

// NewRedisClient connects and pings once
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", cfg.RedisAddr(), err)
	}

	return &Client{Client: client}, nil
}

// Wrap adapts an existing go-redis client, such as a redismock one
func Wrap(client *redis.Client) *Client {
	return &Client{Client: client}
}

// IsNil reports a missing key
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// SetIfAbsent claims key for expiration and reports whether this caller won
func (c *Client) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, expiration).Result()
}

// SetWithExpiration overwrites key
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
