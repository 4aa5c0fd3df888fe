package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// IncrementDaily bumps the (account, operation, day) aggregate,
	// creating the row on first use. Safe inside the charge transaction.
	IncrementDaily(ctx context.Context, db *gorm.DB, id snowflake.ID, accountID, operation string, day, now time.Time) error
	// CountsSince sums counts per operation for rows on or after from.
	CountsSince(ctx context.Context, db *gorm.DB, accountID string, from time.Time) (map[string]int, error)
}
