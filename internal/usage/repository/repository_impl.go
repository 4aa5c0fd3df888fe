package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paperwell/metering/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) IncrementDaily(ctx context.Context, db *gorm.DB, id snowflake.ID, accountID, operation string, day, now time.Time) error {
	if strings.EqualFold(db.Dialector.Name(), "mysql") {
		return db.WithContext(ctx).Exec(
			`INSERT INTO usage_records (id, account_id, operation, day, count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?)
			 ON DUPLICATE KEY UPDATE count = count + 1, updated_at = VALUES(updated_at)`,
			id, accountID, operation, day, now, now,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, account_id, operation, day, count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (account_id, operation, day) DO UPDATE
		 SET count = usage_records.count + 1, updated_at = excluded.updated_at`,
		id, accountID, operation, day, now, now,
	).Error
}

func (r *repo) CountsSince(ctx context.Context, db *gorm.DB, accountID string, from time.Time) (map[string]int, error) {
	type row struct {
		Operation string
		Total     int
	}
	var rows []row
	err := db.WithContext(ctx).Raw(
		`SELECT operation, SUM(count) AS total
		 FROM usage_records
		 WHERE account_id = ? AND day >= ?
		 GROUP BY operation`,
		accountID,
		from,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Operation] = r.Total
	}
	return counts, nil
}
