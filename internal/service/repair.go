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

// RepairService rewrites the legs of a not-yet-held operation once the
// real amount becomes known, typically when a payment provider confirms
// a different amount than the one the operation was opened with.
type RepairService struct {
	store QueryStore
	audit *AuditService
}

func NewRepairService(store QueryStore) *RepairService {
	return &RepairService{
		store: store,
		audit: NewAuditService(store),
	}
}

// FillAmount replaces the main and counter legs of a NEW operation with
// the confirmed amount, keeping fee and rounding legs untouched, then
// re-validates. Calls are idempotent: repeated confirmations of the same
// amount converge to a no-op, and concurrent calls serialize on the
// operation row.
func (s *RepairService) FillAmount(ctx context.Context, operationID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		if op.Status != domain.OpStatusNew {
			return fmt.Errorf("cannot repair %s operation %s", op.Status, operationID)
		}

		legs, err := qtx.ListOperationLegs(ctx, operationID)
		if err != nil {
			return err
		}
		if converged(legs, amount) {
			return nil
		}
		if err := lockAccounts(ctx, qtx, legRowAccountIDs(legs)); err != nil {
			return err
		}
		if err := qtx.DeleteOperationLegs(ctx, operationID); err != nil {
			return err
		}
		for _, leg := range legs {
			next := leg.Transaction.Amount
			switch leg.Transaction.LegRole() {
			case domain.LegRoleMain, domain.LegRoleCounter:
				if next.IsNegative() {
					next = amount.Neg()
				} else {
					next = amount
				}
			}
			if err := qtx.CreateTransaction(ctx, &models.Transaction{
				ID:          uuid.New(),
				OperationID: operationID,
				AccountID:   leg.Transaction.AccountID,
				Amount:      next,
				Refs:        leg.Transaction.Refs,
			}); err != nil {
				return err
			}
		}
		if err := validateOperation(ctx, qtx, operationID, true); err != nil {
			return err
		}
		meta := fmt.Appendf(nil, `{"amount":%q}`, amount.String())
		return s.audit.Write(ctx, qtx, "operation", operationID, nil,
			"legs_repaired", op.Status, op.Status, meta)
	})
}

// converged reports whether the main legs already carry the target
// amount, in which case an earlier repair with the same value won.
func converged(legs []repository.OperationLegRow, amount decimal.Decimal) bool {
	for _, leg := range legs {
		if leg.Transaction.LegRole() != domain.LegRoleMain {
			continue
		}
		if !leg.Transaction.Amount.Abs().Equal(amount) {
			return false
		}
	}
	return true
}

func legRowAccountIDs(legs []repository.OperationLegRow) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(legs))
	ids := make([]uuid.UUID, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Transaction.AccountID]; ok {
			continue
		}
		seen[leg.Transaction.AccountID] = struct{}{}
		ids = append(ids, leg.Transaction.AccountID)
	}
	return ids
}
