package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Client is the Redis connection shared by the broker transport and the presence store.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to redisURL and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opt.Addr, err)
	}

	slog.Info("[REDIS] Connected to Redis", "addr", opt.Addr, "db", opt.DB)

	return &Client{rdb: rdb}, nil
}

// Wrap uses an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// namespace turns a prefix such as "livechat" into the key namespace "livechat:".
func namespace(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, ":") {
		return prefix
	}
	return prefix + ":"
}
