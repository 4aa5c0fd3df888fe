package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Append(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	ListRecent(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]LedgerEntry, error)
	FindPendingByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*LedgerEntry, error)
	// Complete flips a pending entry to completed with its settled
	// balance snapshot. Fail flips it to failed. These are the only
	// sanctioned mutations of a ledger row.
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, balanceAfter decimal.Decimal, description string) error
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, description string) error
}
