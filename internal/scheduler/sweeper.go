package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	billingdomain "github.com/paperwell/metering/internal/billing/domain"
	"github.com/paperwell/metering/internal/clock"
	"github.com/paperwell/metering/internal/metrics"
	"github.com/paperwell/metering/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepLockKey = "metering:sweep:lock"

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Locker  *ratelimit.Locker `optional:"true"`
	Metrics *metrics.Metrics  `optional:"true"`
	Config  Config            `optional:"true"`
}

// Sweeper is the eager counterpart of the lazy quota reset: it advances
// expired quota periods in batches so dormant accounts do not sit on stale
// counters, and prunes expired charge keys. Correctness never depends on it
// running; the lazy path does the same reset on demand.
type Sweeper struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	locker  *ratelimit.Locker
	metrics *metrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:      p.DB,
		log:     p.Log.Named("sweeper"),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// RunOnce executes one sweep pass. With a locker configured, only one
// instance sweeps per interval.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable, proceeding unlocked", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
					s.log.Warn("release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	return errors.Join(
		s.resetExpiredQuotas(ctx),
		s.expireChargeKeys(ctx),
	)
}

func (s *Sweeper) resetExpiredQuotas(ctx context.Context) error {
	now := s.clock.Now()
	nextReset := billingdomain.NextResetAt(now)

	total := 0
	for {
		batched := 0
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sel := `SELECT id FROM accounts WHERE free_operations_reset_at <= ? ORDER BY id LIMIT ?`
			if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
				sel += ` FOR UPDATE SKIP LOCKED`
			}

			var ids []string
			if err := tx.Raw(sel, now, s.cfg.BatchSize).Scan(&ids).Error; err != nil {
				return fmt.Errorf("select expired accounts: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}

			// the reset_at predicate repeats so a lazy reset that won
			// the race turns this into a no-op
			result := tx.Exec(
				`UPDATE accounts SET free_operations_used = 0, free_operations_reset_at = ?, updated_at = ?
				 WHERE id IN ? AND free_operations_reset_at <= ?`,
				nextReset,
				now,
				ids,
				now,
			)
			if result.Error != nil {
				return fmt.Errorf("reset quotas: %w", result.Error)
			}
			batched = int(result.RowsAffected)
			return nil
		})
		if err != nil {
			return err
		}
		if batched == 0 {
			break
		}

		total += batched
		for i := 0; i < batched; i++ {
			s.metrics.ObserveQuotaReset("sweep")
		}
		if batched < s.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		s.log.Info("quota sweep reset accounts", zap.Int("count", total))
	}
	return nil
}

func (s *Sweeper) expireChargeKeys(ctx context.Context) error {
	result := s.db.WithContext(ctx).Exec(
		`DELETE FROM charge_keys WHERE expires_at <= ?`,
		s.clock.Now(),
	)
	if result.Error != nil {
		return fmt.Errorf("expire charge keys: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Debug("expired charge keys", zap.Int64("count", result.RowsAffected))
	}
	return nil
}
