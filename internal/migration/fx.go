package migration

import (
	accountdomain "github.com/paperwell/metering/internal/account/domain"
	"github.com/paperwell/metering/internal/config"
	"github.com/paperwell/metering/internal/idempotency"
	ledgerdomain "github.com/paperwell/metering/internal/ledger/domain"
	"github.com/paperwell/metering/internal/seed"
	usagedomain "github.com/paperwell/metering/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql and sqlite dev setups derive the schema from the models
			if err := conn.AutoMigrate(
				&accountdomain.Account{},
				&ledgerdomain.LedgerEntry{},
				&usagedomain.UsageRecord{},
				&idempotency.ChargeKey{},
			); err != nil {
				return err
			}
		}

		if cfg.DefaultAccountID != "" {
			return seed.EnsureAccount(conn, cfg.DefaultAccountID)
		}
		return nil
	}),
)
