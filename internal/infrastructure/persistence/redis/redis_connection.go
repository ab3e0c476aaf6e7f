// Package redis provides the Redis-backed KeyValueStore and connection
// management for the Gatekeeper cache. Standalone, cluster, and sentinel
// deployments are supported through go-redis universal options.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/merchware/gatekeeper/internal/config"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// Connect builds a Redis client from configuration and verifies connectivity
// with a ping before returning it.
func Connect(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (redis.UniversalClient, error) {
	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.SentinelMaster,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info(ctx, "redis connection established",
		logger.Any("addresses", cfg.Addresses),
		logger.Int("db", cfg.DB),
		logger.Int("pool_size", cfg.PoolSize),
	)

	return client, nil
}
