package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("account_not_found")
	ErrInvalidAccount = errors.New("invalid_account")
)

// Account is the billing state of one user of the document service. The id
// is minted by the identity system and treated as opaque here.
type Account struct {
	ID                    string          `gorm:"primaryKey;type:text" json:"id"`
	Balance               decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"balance"`
	FreeOperationsUsed    int             `gorm:"not null" json:"freeOperationsUsed"`
	FreeOperationsResetAt time.Time       `gorm:"not null" json:"freeOperationsResetAt"`
	CreatedAt             time.Time       `gorm:"not null" json:"createdAt"`
	UpdatedAt             time.Time       `gorm:"not null" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}
