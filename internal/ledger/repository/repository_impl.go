package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/paperwell/metering/internal/ledger/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Append(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, account_id, amount, balance_after, description, status, payment_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.Amount,
		entry.BalanceAfter,
		entry.Description,
		string(entry.Status),
		entry.PaymentID,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindPendingByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, amount, balance_after, description, status, payment_id, created_at
		 FROM ledger_entries WHERE payment_id = ? AND status = ?`,
		paymentID,
		string(domain.StatusPending),
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, balanceAfter decimal.Decimal, description string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ledger_entries SET status = ?, balance_after = ?, description = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusCompleted),
		balanceAfter,
		description,
		id,
		string(domain.StatusPending),
	).Error
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, description string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ledger_entries SET status = ?, description = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusFailed),
		description,
		id,
		string(domain.StatusPending),
	).Error
}
