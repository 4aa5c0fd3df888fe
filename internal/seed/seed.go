package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	accountdomain "github.com/paperwell/metering/internal/account/domain"
	billingdomain "github.com/paperwell/metering/internal/billing/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EnsureAccount creates the billing account for id if it does not exist yet.
// New accounts start with zero balance, an untouched quota and a reset at
// the first instant of next month. Called from the signup hook and, for a
// configured default account, at startup.
func EnsureAccount(db *gorm.DB, id string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return accountdomain.ErrInvalidAccount
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing accountdomain.Account
		err := tx.WithContext(ctx).First(&existing, "id = ?", id).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		return tx.WithContext(ctx).Create(&accountdomain.Account{
			ID:                    id,
			Balance:               decimal.Zero,
			FreeOperationsUsed:    0,
			FreeOperationsResetAt: billingdomain.NextResetAt(now),
			CreatedAt:             now,
			UpdatedAt:             now,
		}).Error
	})
}
