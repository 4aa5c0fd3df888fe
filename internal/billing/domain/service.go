package domain

import (
	"context"
	"time"

	ledgerdomain "github.com/paperwell/metering/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

// Service is the billing core: eligibility, charging, deposits and balance
// reporting. Business-rule outcomes (insufficient funds, unknown account)
// come back inside the result structs; errors are reserved for validation
// and storage failures.
type Service interface {
	CheckEligibility(ctx context.Context, accountID, operation string) (EligibilityResult, error)
	Charge(ctx context.Context, accountID, operation string) (ChargeResult, error)

	Deposit(ctx context.Context, req DepositRequest) (DepositResult, error)
	CreatePendingDeposit(ctx context.Context, req DepositRequest) (DepositResult, error)
	CompleteDeposit(ctx context.Context, paymentID string) (DepositResult, error)
	FailDeposit(ctx context.Context, paymentID, reason string) error

	GetBalanceInfo(ctx context.Context, accountID string) (BalanceInfo, error)
	GetUsageStats(ctx context.Context, accountID string) (UsageStats, error)
}

type EligibilityResult struct {
	CanPerform              bool            `json:"canPerform"`
	HasFreeOperations       bool            `json:"hasFreeOperations"`
	FreeOperationsRemaining int             `json:"freeOperationsRemaining"`
	CurrentBalance          decimal.Decimal `json:"currentBalance"`
	OperationCost           decimal.Decimal `json:"operationCost"`
	Error                   string          `json:"error,omitempty"`
}

type ChargeResult struct {
	Success                 bool            `json:"success"`
	UsedFreeOperation       bool            `json:"usedFreeOperation"`
	FreeOperationsRemaining int             `json:"freeOperationsRemaining"`
	CurrentBalance          decimal.Decimal `json:"currentBalance"`
	OperationCost           decimal.Decimal `json:"operationCost"`
	Error                   string          `json:"error,omitempty"`
}

type DepositRequest struct {
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentID   string          `json:"paymentId"`
	Description string          `json:"description"`
}

type DepositResult struct {
	Success    bool            `json:"success"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Error      string          `json:"error,omitempty"`
}

// BalanceTransaction is a ledger entry shaped for the balance page.
type BalanceTransaction struct {
	ID            string                   `json:"id"`
	Amount        decimal.Decimal          `json:"amount"`
	DisplayAmount string                   `json:"displayAmount"`
	BalanceAfter  decimal.Decimal          `json:"balanceAfter"`
	Description   string                   `json:"description"`
	Status        ledgerdomain.EntryStatus `json:"status"`
	CreatedAt     time.Time                `json:"createdAt"`
}

type BalanceInfo struct {
	AccountID               string               `json:"accountId"`
	Balance                 decimal.Decimal      `json:"balance"`
	FreeOperationsUsed      int                  `json:"freeOperationsUsed"`
	FreeOperationsRemaining int                  `json:"freeOperationsRemaining"`
	FreeOperationsTotal     int                  `json:"freeOperationsTotal"`
	NextResetAt             time.Time            `json:"nextResetAt"`
	RecentTransactions      []BalanceTransaction `json:"recentTransactions"`
	MonthOperations         int                  `json:"monthOperations"`
}

type UsageStats struct {
	AccountID       string         `json:"accountId"`
	PeriodStart     time.Time      `json:"periodStart"`
	TotalOperations int            `json:"totalOperations"`
	Operations      map[string]int `json:"operations"`
}
