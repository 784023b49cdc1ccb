package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount              = errors.New("amount must be positive")
	ErrInvalidExchangeDirection   = errors.New("exchange legs must have opposite signs")
	ErrNegativeFee                = errors.New("fee must not be negative")
	ErrRefundOfUncommittedDeposit = errors.New("refund requires a committed deposit")
	ErrAlreadyRefunded            = errors.New("deposit has already been refunded")
	ErrResourcePoolExhausted      = errors.New("no unbound pooled account available")
	ErrOperationNotFound          = errors.New("operation not found")
	ErrAccountNotFound            = errors.New("account not found")
	ErrAssetNotFound              = errors.New("asset not found")
)

// OperationBalanceError reports that an operation's legs for one asset do
// not sum to zero.
type OperationBalanceError struct {
	OperationID uuid.UUID
	AssetID     uuid.UUID
	Net         string
}

func (e *OperationBalanceError) Error() string {
	return fmt.Sprintf("operation %s is unbalanced for asset %s: net %s", e.OperationID, e.AssetID, e.Net)
}

// AccountBalanceError reports that an account's aggregate balance violates
// its type constraint (active below zero or passive above zero).
type AccountBalanceError struct {
	AccountID uuid.UUID
	Reason    string
}

func (e *AccountBalanceError) Error() string {
	return fmt.Sprintf("account %s balance constraint violated: %s", e.AccountID, e.Reason)
}

// AccountStrictnessError reports that an individual transaction violates a
// strict account's per-transaction sign rule.
type AccountStrictnessError struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Reason        string
}

func (e *AccountStrictnessError) Error() string {
	return fmt.Sprintf("transaction %s violates strict account %s: %s", e.TransactionID, e.AccountID, e.Reason)
}
