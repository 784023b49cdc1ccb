package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/repository"
)

// BalanceService answers the two balance questions the ledger supports:
// the constraint balance used during validation, and the display balance
// end users see. The two deliberately disagree while money is in flight.
type BalanceService struct {
	store QueryStore
}

func NewBalanceService(store QueryStore) *BalanceService {
	return &BalanceService{store: store}
}

// CalculateBalance returns the constraint balance of an account. With
// includeNew set, NEW operations count too, which is the reserved view
// the pre-hold validation runs against.
func (s *BalanceService) CalculateBalance(ctx context.Context, accountID uuid.UUID, includeNew bool) (decimal.Decimal, error) {
	return s.store.Queries().SumAccountBalance(ctx, accountID, includeNew)
}

// DisplayBalance folds the account's postings through the display
// visibility rules. Held withdrawals already reduce it; held deposits do
// not yet increase it.
func (s *BalanceService) DisplayBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	postings, err := s.store.Queries().ListAccountPostings(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range postings {
		if VisibleInDisplay(p.OpStatus, p.OpType, p.AssetKind) {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

// VisibleInDisplay decides whether one posting counts toward the display
// balance. Outgoing money disappears as soon as it is held; incoming
// money appears only once committed. Crypto legs of an exchange stay
// invisible until the chain side settles.
func VisibleInDisplay(status, opType, assetKind string) bool {
	switch status {
	case domain.OpStatusNew, domain.OpStatusCancelled, domain.OpStatusDeleted:
		return false
	case domain.OpStatusCommitted:
		return true
	}
	// HOLD and ACTION_REQUIRED from here on.
	switch opType {
	case domain.OpTypeWithdrawal, domain.OpTypeRefund:
		return true
	case domain.OpTypeBuy, domain.OpTypeSell:
		return assetKind == domain.AssetKindFiat
	}
	return false
}

// Amounts is the user-facing decomposition of one operation.
type Amounts struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Fee    decimal.Decimal
}

// OperationAmounts derives the displayed debit, credit and fee of an
// operation from its role-tagged legs. Counter and rounding legs are
// internal plumbing and never shown.
func OperationAmounts(legs []repository.OperationLegRow) Amounts {
	a := Amounts{Debit: decimal.Zero, Credit: decimal.Zero, Fee: decimal.Zero}
	for _, leg := range legs {
		amount := leg.Transaction.Amount
		switch leg.Transaction.LegRole() {
		case domain.LegRoleMain:
			if amount.IsNegative() {
				a.Debit = a.Debit.Add(amount.Neg())
			} else {
				a.Credit = a.Credit.Add(amount)
			}
		case domain.LegRoleFee:
			if amount.IsPositive() {
				a.Fee = a.Fee.Add(amount)
			}
		}
	}
	return a
}

// AccountIsValid re-checks an account's aggregate constraint in the
// given view. Normal accounts are always valid.
func (s *BalanceService) AccountIsValid(ctx context.Context, accountID uuid.UUID, includeNew bool) error {
	account, err := s.store.Queries().GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Type == domain.AccountTypeNormal {
		return nil
	}
	balance, err := s.CalculateBalance(ctx, accountID, includeNew)
	if err != nil {
		return err
	}
	switch {
	case account.Type == domain.AccountTypeActive && balance.IsNegative():
		return &models.AccountBalanceError{AccountID: accountID, Reason: "active account balance below zero"}
	case account.Type == domain.AccountTypePassive && balance.IsPositive():
		return &models.AccountBalanceError{AccountID: accountID, Reason: "passive account balance above zero"}
	}
	return nil
}

// Statement lists an account's operations, newest first.
func (s *BalanceService) Statement(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Operation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.Queries().ListAccountOperations(ctx, accountID, limit, offset)
}
