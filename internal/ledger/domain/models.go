package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// LedgerEntry is one append-only row of an account's transaction history.
// Amount is signed: credits positive, debits negative. BalanceAfter snapshots
// the account balance after the entry was applied, so the history doubles as
// an audit trail.
type LedgerEntry struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID    string          `gorm:"not null;index:idx_ledger_account_created,priority:1" json:"accountId"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"balanceAfter"`
	Description  string          `gorm:"type:text;not null" json:"description"`
	Status       EntryStatus     `gorm:"type:text;not null" json:"status"`
	PaymentID    *string         `gorm:"type:text" json:"paymentId,omitempty"`
	CreatedAt    time.Time       `gorm:"not null;index:idx_ledger_account_created,priority:2,sort:desc" json:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// DisplayAmount formats the amount the way the balance page shows it:
// "Free" for zero-amount quota entries, otherwise a signed 3-decimal figure.
func (e LedgerEntry) DisplayAmount() string {
	if e.Amount.IsZero() {
		return "Free"
	}
	if e.Amount.IsPositive() {
		return "+" + e.Amount.StringFixed(3)
	}
	return e.Amount.StringFixed(3)
}
