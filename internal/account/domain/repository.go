package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Account, error)
	// FindByIDForUpdate locks the account row for the duration of the
	// surrounding transaction.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Account, error)
}
