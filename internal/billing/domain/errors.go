package domain

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidOperation  = errors.New("invalid_operation")
	ErrInvalidPaymentID  = errors.New("invalid_payment_id")
	ErrDuplicatePayment  = errors.New("duplicate_payment")
	ErrDepositNotPending = errors.New("deposit_not_pending")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)
