package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/repository"
)

// validateOperation runs the full validity check over one operation: the
// per-asset zero-sum rule, the per-transaction strictness rule, and the
// aggregate balance constraint of every touched account.
//
// includeNew selects the balance view: pre-hold validation counts NEW
// operations as already-reserved funds (preventing double-spend across
// in-flight assemblies), commit-time validation checks the settled view
// only.
func validateOperation(ctx context.Context, qtx *repository.Queries, operationID uuid.UUID, includeNew bool) error {
	legs, err := qtx.ListOperationLegs(ctx, operationID)
	if err != nil {
		return err
	}
	if len(legs) == 0 {
		return fmt.Errorf("operation %s has no legs", operationID)
	}

	nets := make(map[uuid.UUID]decimal.Decimal)
	for _, leg := range legs {
		nets[leg.AssetID] = nets[leg.AssetID].Add(leg.Transaction.Amount)
	}
	for assetID, net := range nets {
		if !net.IsZero() {
			return &models.OperationBalanceError{
				OperationID: operationID,
				AssetID:     assetID,
				Net:         net.String(),
			}
		}
	}

	for _, leg := range legs {
		if err := validateStrictness(leg); err != nil {
			return err
		}
	}

	checked := make(map[uuid.UUID]struct{})
	for _, leg := range legs {
		accountID := leg.Transaction.AccountID
		if _, ok := checked[accountID]; ok {
			continue
		}
		checked[accountID] = struct{}{}
		if err := validateAccountBalance(ctx, qtx, accountID, leg.AccountType, includeNew); err != nil {
			return err
		}
	}
	return nil
}

// validateStrictness applies the per-transaction sign rule of strict
// accounts: no negative posting to a strict active account, no positive
// posting to a strict passive one.
func validateStrictness(leg repository.OperationLegRow) error {
	if !leg.AccountStrict {
		return nil
	}
	switch leg.AccountType {
	case domain.AccountTypeActive:
		if leg.Transaction.Amount.IsNegative() {
			return &models.AccountStrictnessError{
				TransactionID: leg.Transaction.ID,
				AccountID:     leg.Transaction.AccountID,
				Reason:        "negative transaction on strict active account",
			}
		}
	case domain.AccountTypePassive:
		if leg.Transaction.Amount.IsPositive() {
			return &models.AccountStrictnessError{
				TransactionID: leg.Transaction.ID,
				AccountID:     leg.Transaction.AccountID,
				Reason:        "positive transaction on strict passive account",
			}
		}
	}
	return nil
}

// validateAccountBalance checks the aggregate sign constraint of one
// account under the selected visibility view.
func validateAccountBalance(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, accountType string, includeNew bool) error {
	switch accountType {
	case domain.AccountTypeActive, domain.AccountTypePassive:
	default:
		return nil
	}

	balance, err := qtx.SumAccountBalance(ctx, accountID, includeNew)
	if err != nil {
		return err
	}
	if accountType == domain.AccountTypeActive && balance.IsNegative() {
		return &models.AccountBalanceError{
			AccountID: accountID,
			Reason:    fmt.Sprintf("active account balance %s below zero", balance),
		}
	}
	if accountType == domain.AccountTypePassive && balance.IsPositive() {
		return &models.AccountBalanceError{
			AccountID: accountID,
			Reason:    fmt.Sprintf("passive account balance %s above zero", balance),
		}
	}
	return nil
}
