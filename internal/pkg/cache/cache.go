package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

// Options translates the Redis section of the config into client options.
// REDIS_URL wins over the discrete CACHE_* settings.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is not configured")
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	}, nil
}

// NewClient connects to Redis and verifies the connection with a ping.
// The caller owns the client and must close it.
func NewClient(ctx context.Context, cfg config.RedisConfig, timeout time.Duration) (*redis.Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	// retries are decided by the caller, go-redis must not replay writes on its own
	opts.MaxRetries = -1
	if timeout > 0 {
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
		opts.DialTimeout = timeout
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(timeout))
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Infof("[Cache] Connected to redis at %s: %s", opts.Addr, pong)
	return client, nil
}

func pingTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}
