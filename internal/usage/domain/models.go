package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord aggregates successful charges per account, operation and UTC
// day. One row per (account, operation, day); count is bumped in the charge
// transaction.
type UsageRecord struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID string       `gorm:"not null;uniqueIndex:ux_usage_account_op_day,priority:1" json:"accountId"`
	Operation string       `gorm:"type:text;not null;uniqueIndex:ux_usage_account_op_day,priority:2" json:"operation"`
	Day       time.Time    `gorm:"not null;uniqueIndex:ux_usage_account_op_day,priority:3" json:"day"`
	Count     int          `gorm:"not null" json:"count"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"not null" json:"updatedAt"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// DayOf truncates t to the UTC day bucket usage rows are keyed by.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
