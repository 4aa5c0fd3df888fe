package scheduler

import (
	"time"

	appconfig "github.com/paperwell/metering/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		BatchSize:   200,
		LockTTL:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func FromAppConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval: cfg.Sweep.RunInterval,
		BatchSize:   cfg.Sweep.BatchSize,
		LockTTL:     cfg.Sweep.LockTTL,
	}.withDefaults()
}
