// Package redis builds the shared Redis client used for run leases and
// progress tracking.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"vouch/internal/platform/config"
)

// Client is a standalone or cluster client, depending on the configured URL.
type Client struct {
	redis.UniversalClient
}

// New connects to Redis. A single redis:// URL yields a standalone client; a
// comma-separated list of host:port addresses yields a cluster client. Returns
// nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}

	opts, err := universalOptions(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{UniversalClient: client}, nil
}

func universalOptions(raw string) (*redis.UniversalOptions, error) {
	if strings.Contains(raw, ",") {
		var addrs []string
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				addrs = append(addrs, addr)
			}
		}
		return &redis.UniversalOptions{Addrs: addrs}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &redis.UniversalOptions{
		Addrs:     []string{opts.Addr},
		DB:        opts.DB,
		Username:  opts.Username,
		Password:  opts.Password,
		Protocol:  opts.Protocol,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// Health pings Redis.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
