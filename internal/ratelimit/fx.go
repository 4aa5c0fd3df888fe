package ratelimit

import (
	"github.com/paperwell/metering/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewChargeLimiter),
	fx.Provide(NewLocker),
)

// NewRedisClient returns nil when no redis address is configured; the
// limiter and locker degrade to no-ops in that case.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := cfg.RateLimit.RedisAddr
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
}
