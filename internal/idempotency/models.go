package idempotency

import "time"

// ChargeKey is the persisted form of a dedup marker. It is inserted with
// ON CONFLICT DO NOTHING inside the charge transaction, so concurrent
// instances agree on which request billed; the in-process guard is only a
// fast path in front of this table.
type ChargeKey struct {
	ChargeKey string    `gorm:"primaryKey;type:text"`
	AccountID string    `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChargeKey) TableName() string {
	return "charge_keys"
}
