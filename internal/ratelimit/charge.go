package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/paperwell/metering/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyCharge = "metering:charge:%s"

// ChargeLimiter throttles charge requests per account. Disabled (allow
// everything) when redis is not configured.
type ChargeLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewChargeLimiter(cfg config.Config, client *redis.Client) *ChargeLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil
	}
	return &ChargeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ChargeRate,
		burst:   limitCfg.ChargeBurst,
	}
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ChargeLimiter) Allow(ctx context.Context, accountID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCharge, strings.TrimSpace(accountID)), l.rate, l.burst)
}
