package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/paperwell/metering/internal/account/domain"
	billingdomain "github.com/paperwell/metering/internal/billing/domain"
	"github.com/paperwell/metering/internal/clock"
	"github.com/paperwell/metering/internal/config"
	"github.com/paperwell/metering/internal/idempotency"
	ledgerdomain "github.com/paperwell/metering/internal/ledger/domain"
	"github.com/paperwell/metering/internal/metrics"
	usagedomain "github.com/paperwell/metering/internal/usage/domain"
	"github.com/paperwell/metering/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultDepositDescription = "Deposit"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Pricing  *config.PricingHolder
	Guard    *idempotency.Guard
	Accounts accountdomain.Repository
	Ledger   ledgerdomain.Repository
	Usage    usagedomain.Repository
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	pricing  *config.PricingHolder
	guard    *idempotency.Guard
	accounts accountdomain.Repository
	ledger   ledgerdomain.Repository
	usage    usagedomain.Repository
	metrics  *metrics.Metrics

	bucket    time.Duration
	retention time.Duration
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billing.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		guard:     p.Guard,
		accounts:  p.Accounts,
		ledger:    p.Ledger,
		usage:     p.Usage,
		metrics:   p.Metrics,
		bucket:    idempotency.DefaultBucket,
		retention: idempotency.DefaultRetention,
	}
}

func (s *Service) CheckEligibility(ctx context.Context, accountID, operation string) (billingdomain.EligibilityResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return billingdomain.EligibilityResult{}, accountdomain.ErrInvalidAccount
	}

	pricing := s.pricing.Get()
	cost := pricing.OperationCost(operation)

	acct, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) {
			return billingdomain.EligibilityResult{
				OperationCost: cost,
				Error:         "account not found",
			}, nil
		}
		return billingdomain.EligibilityResult{}, fmt.Errorf("load account: %w", err)
	}

	now := s.clock.Now()
	used := billingdomain.EffectiveUsed(now, acct.FreeOperationsResetAt, acct.FreeOperationsUsed)
	remaining := billingdomain.RemainingFree(pricing.FreeQuota, used)
	hasFree := remaining > 0
	hasBalance := acct.Balance.GreaterThanOrEqual(cost)

	result := billingdomain.EligibilityResult{
		CanPerform:              hasFree || hasBalance,
		HasFreeOperations:       hasFree,
		FreeOperationsRemaining: remaining,
		CurrentBalance:          acct.Balance,
		OperationCost:           cost,
	}
	if !result.CanPerform {
		result.Error = insufficientFundsMessage(cost, acct.Balance)
	}
	return result, nil
}

func (s *Service) Charge(ctx context.Context, accountID, operation string) (billingdomain.ChargeResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return billingdomain.ChargeResult{}, accountdomain.ErrInvalidAccount
	}
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation == "" {
		return billingdomain.ChargeResult{}, billingdomain.ErrInvalidOperation
	}

	pricing := s.pricing.Get()
	cost := pricing.OperationCost(operation)
	now := s.clock.Now()
	key := idempotency.Key(accountID, operation, now, s.bucket)

	if !s.guard.Mark(key) {
		s.metrics.ObserveDuplicateCharge()
		return s.chargedState(ctx, accountID, pricing, cost)
	}

	var (
		result        billingdomain.ChargeResult
		alreadyBilled bool
		available     decimal.Decimal
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.claimChargeKey(ctx, tx, key, accountID, now)
		if err != nil {
			return fmt.Errorf("claim charge key: %w", err)
		}
		if !claimed {
			// another instance billed this bucket already
			alreadyBilled = true
			return nil
		}

		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		used := acct.FreeOperationsUsed
		if billingdomain.PeriodExpired(now, acct.FreeOperationsResetAt) {
			used = 0
			if err := tx.WithContext(ctx).Exec(
				`UPDATE accounts SET free_operations_used = 0, free_operations_reset_at = ?, updated_at = ? WHERE id = ?`,
				billingdomain.NextResetAt(now),
				now,
				accountID,
			).Error; err != nil {
				return fmt.Errorf("reset quota: %w", err)
			}
			s.metrics.ObserveQuotaReset("lazy")
		}

		if used < pricing.FreeQuota {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE accounts SET free_operations_used = ?, updated_at = ? WHERE id = ?`,
				used+1,
				now,
				accountID,
			).Error; err != nil {
				return fmt.Errorf("consume free operation: %w", err)
			}
			if err := s.recordUsage(ctx, tx, accountID, operation, now); err != nil {
				return err
			}
			result = billingdomain.ChargeResult{
				Success:                 true,
				UsedFreeOperation:       true,
				FreeOperationsRemaining: billingdomain.RemainingFree(pricing.FreeQuota, used+1),
				CurrentBalance:          acct.Balance,
				OperationCost:           cost,
			}
			return nil
		}

		if acct.Balance.LessThan(cost) {
			available = acct.Balance
			return billingdomain.ErrInsufficientFunds
		}

		newBalance := acct.Balance.Sub(cost).Round(3)
		if err := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			newBalance,
			now,
			accountID,
		).Error; err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if err := s.ledger.Append(ctx, tx, &ledgerdomain.LedgerEntry{
			ID:           s.genID.Generate(),
			AccountID:    accountID,
			Amount:       cost.Neg(),
			BalanceAfter: newBalance,
			Description:  "Operation: " + operation,
			Status:       ledgerdomain.StatusCompleted,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := s.recordUsage(ctx, tx, accountID, operation, now); err != nil {
			return err
		}
		result = billingdomain.ChargeResult{
			Success:        true,
			CurrentBalance: newBalance,
			OperationCost:  cost,
		}
		return nil
	})
	if err != nil {
		// the rollback also dropped the persisted key, so the next
		// attempt starts clean
		s.guard.Clear(key)

		switch {
		case errors.Is(err, billingdomain.ErrInsufficientFunds):
			s.metrics.ObserveInsufficientFunds()
			s.metrics.ObserveCharge("insufficient_funds", "paid")
			return billingdomain.ChargeResult{
				CurrentBalance: available,
				OperationCost:  cost,
				Error:          insufficientFundsMessage(cost, available),
			}, nil
		case errors.Is(err, accountdomain.ErrNotFound):
			s.metrics.ObserveCharge("not_found", "none")
			return billingdomain.ChargeResult{
				OperationCost: cost,
				Error:         "account not found",
			}, nil
		default:
			s.metrics.ObserveCharge("error", "none")
			s.log.Error("charge transaction failed",
				zap.String("account_id", accountID),
				zap.String("operation", operation),
				zap.Error(err),
			)
			return billingdomain.ChargeResult{}, err
		}
	}

	if alreadyBilled {
		s.metrics.ObserveDuplicateCharge()
		return s.chargedState(ctx, accountID, pricing, cost)
	}

	if result.UsedFreeOperation {
		s.metrics.ObserveCharge("success", "free")
	} else {
		s.metrics.ObserveCharge("success", "paid")
	}
	return result, nil
}

// chargedState answers a deduplicated request: the bucket was billed, so
// report success with the current account state and mutate nothing.
func (s *Service) chargedState(ctx context.Context, accountID string, pricing config.Pricing, cost decimal.Decimal) (billingdomain.ChargeResult, error) {
	acct, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) {
			return billingdomain.ChargeResult{
				OperationCost: cost,
				Error:         "account not found",
			}, nil
		}
		return billingdomain.ChargeResult{}, fmt.Errorf("load account: %w", err)
	}

	now := s.clock.Now()
	used := billingdomain.EffectiveUsed(now, acct.FreeOperationsResetAt, acct.FreeOperationsUsed)
	remaining := billingdomain.RemainingFree(pricing.FreeQuota, used)
	return billingdomain.ChargeResult{
		Success:                 true,
		UsedFreeOperation:       remaining > 0,
		FreeOperationsRemaining: remaining,
		CurrentBalance:          acct.Balance,
		OperationCost:           cost,
	}, nil
}

func (s *Service) claimChargeKey(ctx context.Context, tx *gorm.DB, key, accountID string, now time.Time) (bool, error) {
	expiresAt := now.Add(s.retention)
	var stmt *gorm.DB
	if strings.EqualFold(tx.Dialector.Name(), "mysql") {
		stmt = tx.WithContext(ctx).Exec(
			`INSERT IGNORE INTO charge_keys (charge_key, account_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
			key, accountID, expiresAt, now,
		)
	} else {
		stmt = tx.WithContext(ctx).Exec(
			`INSERT INTO charge_keys (charge_key, account_id, expires_at, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (charge_key) DO NOTHING`,
			key, accountID, expiresAt, now,
		)
	}
	if stmt.Error != nil {
		return false, stmt.Error
	}
	return stmt.RowsAffected > 0, nil
}

func (s *Service) recordUsage(ctx context.Context, tx *gorm.DB, accountID, operation string, now time.Time) error {
	if err := s.usage.IncrementDaily(ctx, tx, s.genID.Generate(), accountID, operation, usagedomain.DayOf(now), now); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *Service) Deposit(ctx context.Context, req billingdomain.DepositRequest) (billingdomain.DepositResult, error) {
	accountID, paymentID, description, err := normalizeDeposit(req)
	if err != nil {
		return billingdomain.DepositResult{}, err
	}

	var result billingdomain.DepositResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		newBalance := acct.Balance.Add(req.Amount).Round(3)
		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			newBalance,
			now,
			accountID,
		).Error; err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		if err := s.ledger.Append(ctx, tx, &ledgerdomain.LedgerEntry{
			ID:           s.genID.Generate(),
			AccountID:    accountID,
			Amount:       req.Amount,
			BalanceAfter: newBalance,
			Description:  description,
			Status:       ledgerdomain.StatusCompleted,
			PaymentID:    &paymentID,
			CreatedAt:    now,
		}); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return billingdomain.ErrDuplicatePayment
			}
			return fmt.Errorf("append ledger entry: %w", err)
		}

		result = billingdomain.DepositResult{Success: true, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return billingdomain.DepositResult{}, err
	}

	s.metrics.ObserveDeposit(string(ledgerdomain.StatusCompleted))
	s.log.Info("deposit completed",
		zap.String("account_id", accountID),
		zap.String("payment_id", paymentID),
		zap.String("amount", req.Amount.StringFixed(3)),
	)
	return result, nil
}

func (s *Service) CreatePendingDeposit(ctx context.Context, req billingdomain.DepositRequest) (billingdomain.DepositResult, error) {
	accountID, paymentID, description, err := normalizeDeposit(req)
	if err != nil {
		return billingdomain.DepositResult{}, err
	}
	if description == defaultDepositDescription {
		description = "Deposit - pending"
	}

	acct, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return billingdomain.DepositResult{}, err
	}

	if err := s.ledger.Append(ctx, s.db, &ledgerdomain.LedgerEntry{
		ID:           s.genID.Generate(),
		AccountID:    accountID,
		Amount:       req.Amount,
		BalanceAfter: acct.Balance,
		Description:  description,
		Status:       ledgerdomain.StatusPending,
		PaymentID:    &paymentID,
		CreatedAt:    s.clock.Now(),
	}); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return billingdomain.DepositResult{}, billingdomain.ErrDuplicatePayment
		}
		return billingdomain.DepositResult{}, fmt.Errorf("append ledger entry: %w", err)
	}

	s.metrics.ObserveDeposit(string(ledgerdomain.StatusPending))
	return billingdomain.DepositResult{Success: true, NewBalance: acct.Balance}, nil
}

func (s *Service) CompleteDeposit(ctx context.Context, paymentID string) (billingdomain.DepositResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return billingdomain.DepositResult{}, billingdomain.ErrInvalidPaymentID
	}

	var result billingdomain.DepositResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.ledger.FindPendingByPaymentID(ctx, tx, paymentID)
		if err != nil {
			return fmt.Errorf("find pending deposit: %w", err)
		}
		if entry == nil {
			return billingdomain.ErrDepositNotPending
		}

		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}

		newBalance := acct.Balance.Add(entry.Amount).Round(3)
		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			newBalance,
			now,
			entry.AccountID,
		).Error; err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if err := s.ledger.Complete(ctx, tx, entry.ID, newBalance, "Deposit - completed"); err != nil {
			return fmt.Errorf("complete ledger entry: %w", err)
		}

		result = billingdomain.DepositResult{Success: true, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return billingdomain.DepositResult{}, err
	}

	s.metrics.ObserveDeposit(string(ledgerdomain.StatusCompleted))
	s.log.Info("pending deposit completed", zap.String("payment_id", paymentID))
	return result, nil
}

func (s *Service) FailDeposit(ctx context.Context, paymentID, reason string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return billingdomain.ErrInvalidPaymentID
	}

	description := "Deposit - failed"
	if reason = strings.TrimSpace(reason); reason != "" {
		description += ": " + reason
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.ledger.FindPendingByPaymentID(ctx, tx, paymentID)
		if err != nil {
			return fmt.Errorf("find pending deposit: %w", err)
		}
		if entry == nil {
			return billingdomain.ErrDepositNotPending
		}
		return s.ledger.Fail(ctx, tx, entry.ID, description)
	})
	if err != nil {
		return err
	}

	s.metrics.ObserveDeposit(string(ledgerdomain.StatusFailed))
	s.log.Info("pending deposit failed", zap.String("payment_id", paymentID), zap.String("reason", reason))
	return nil
}

func (s *Service) GetBalanceInfo(ctx context.Context, accountID string) (billingdomain.BalanceInfo, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return billingdomain.BalanceInfo{}, accountdomain.ErrInvalidAccount
	}

	acct, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return billingdomain.BalanceInfo{}, err
	}

	pricing := s.pricing.Get()
	now := s.clock.Now()
	used := billingdomain.EffectiveUsed(now, acct.FreeOperationsResetAt, acct.FreeOperationsUsed)
	nextResetAt := acct.FreeOperationsResetAt
	if billingdomain.PeriodExpired(now, nextResetAt) {
		nextResetAt = billingdomain.NextResetAt(now)
	}

	entries, err := s.ledger.ListRecent(ctx, s.db, accountID, 10)
	if err != nil {
		return billingdomain.BalanceInfo{}, fmt.Errorf("list ledger entries: %w", err)
	}
	transactions := make([]billingdomain.BalanceTransaction, 0, len(entries))
	for _, entry := range entries {
		transactions = append(transactions, billingdomain.BalanceTransaction{
			ID:            entry.ID.String(),
			Amount:        entry.Amount,
			DisplayAmount: entry.DisplayAmount(),
			BalanceAfter:  entry.BalanceAfter,
			Description:   entry.Description,
			Status:        entry.Status,
			CreatedAt:     entry.CreatedAt,
		})
	}

	counts, err := s.usage.CountsSince(ctx, s.db, accountID, billingdomain.MonthStart(now))
	if err != nil {
		return billingdomain.BalanceInfo{}, fmt.Errorf("load usage counts: %w", err)
	}
	monthOperations := 0
	for _, count := range counts {
		monthOperations += count
	}

	return billingdomain.BalanceInfo{
		AccountID:               accountID,
		Balance:                 acct.Balance,
		FreeOperationsUsed:      used,
		FreeOperationsRemaining: billingdomain.RemainingFree(pricing.FreeQuota, used),
		FreeOperationsTotal:     pricing.FreeQuota,
		NextResetAt:             nextResetAt,
		RecentTransactions:      transactions,
		MonthOperations:         monthOperations,
	}, nil
}

func (s *Service) GetUsageStats(ctx context.Context, accountID string) (billingdomain.UsageStats, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return billingdomain.UsageStats{}, accountdomain.ErrInvalidAccount
	}

	if _, err := s.accounts.FindByID(ctx, s.db, accountID); err != nil {
		return billingdomain.UsageStats{}, err
	}

	periodStart := billingdomain.MonthStart(s.clock.Now())
	counts, err := s.usage.CountsSince(ctx, s.db, accountID, periodStart)
	if err != nil {
		return billingdomain.UsageStats{}, fmt.Errorf("load usage counts: %w", err)
	}

	total := 0
	for _, count := range counts {
		total += count
	}
	return billingdomain.UsageStats{
		AccountID:       accountID,
		PeriodStart:     periodStart,
		TotalOperations: total,
		Operations:      counts,
	}, nil
}

func normalizeDeposit(req billingdomain.DepositRequest) (accountID, paymentID, description string, err error) {
	accountID = strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return "", "", "", accountdomain.ErrInvalidAccount
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return "", "", "", billingdomain.ErrInvalidAmount
	}
	paymentID = strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return "", "", "", billingdomain.ErrInvalidPaymentID
	}
	description = strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultDepositDescription
	}
	return accountID, paymentID, description, nil
}

func insufficientFundsMessage(required, available decimal.Decimal) string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", required.StringFixed(3), available.StringFixed(3))
}
