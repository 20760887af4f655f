package database

import (
	"context"
	"time"

	"splitledger/config"
	"splitledger/logger"

	"github.com/redis/go-redis/v9"
)

var Redis *redis.Client

// ConnectRedis is optional: with no URL or an unreachable server the service
// runs without the aggregate cache and Redis stays nil.
func ConnectRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		logger.L().Info("Redis disabled, running without cache")
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.L().Warnw("⚠️  Invalid REDIS_URL, running without cache", "error", err)
		return nil
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.L().Warnw("⚠️  Redis not available, running without cache", "error", err)
		_ = client.Close()
		return nil
	}

	logger.L().Info("✅ Redis connected successfully")
	Redis = client
	return client
}
