package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/gateway"
	"github.com/veloxpay/backoffice/internal/repository"
)

const maxSettlementAttempts = 3

// SettlementService pushes held withdrawals to the external payment
// provider and finalizes them: commit on provider acceptance, reject
// after repeated provider failures.
type SettlementService struct {
	store      QueryStore
	operations *OperationService
	gateway    gateway.Gateway
}

func NewSettlementService(store QueryStore, operations *OperationService, gw gateway.Gateway) *SettlementService {
	return &SettlementService{
		store:      store,
		operations: operations,
		gateway:    gw,
	}
}

// ProcessSettlements handles one batch of held withdrawals. Each
// withdrawal is claimed under its row lock before the provider call so
// concurrent worker instances never double-send.
func (s *SettlementService) ProcessSettlements(ctx context.Context, batchSize int32) error {
	ops, err := s.store.Queries().ListSettleableWithdrawals(ctx, batchSize)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := s.settle(ctx, op.ID); err != nil {
			zap.L().Error("withdrawal settlement failed",
				zap.String("operation_id", op.ID.String()), zap.Error(err))
		}
	}
	return nil
}

var errAlreadySettling = errors.New("withdrawal claimed by another worker")

func (s *SettlementService) settle(ctx context.Context, operationID uuid.UUID) error {
	var (
		destination string
		amount      decimal.Decimal
		symbol      string
		attempts    int
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		if op.Status != domain.OpStatusHold {
			return errAlreadySettling
		}
		if _, ok := op.Refs[domain.RefKeyExternalID]; ok {
			return errAlreadySettling
		}
		destination, _ = op.Refs[domain.RefKeyDestination].(string)
		if destination == "" {
			return fmt.Errorf("withdrawal %s has no destination", operationID)
		}
		if n, ok := op.Refs[domain.RefKeyAttempts].(float64); ok {
			attempts = int(n)
		}
		amount, symbol, err = withdrawalAmount(ctx, qtx, operationID)
		if err != nil {
			return err
		}
		if op.Refs == nil {
			op.Refs = map[string]any{}
		}
		op.Refs[domain.RefKeyAttempts] = attempts + 1
		rows, err := qtx.UpdateOperationRefs(ctx, operationID, op.Refs)
		if err != nil {
			return err
		}
		return requireExactlyOne(rows, "claim withdrawal for settlement")
	})
	if errors.Is(err, errAlreadySettling) {
		return nil
	}
	if err != nil {
		return err
	}

	ref, sendErr := s.gateway.SendWithdrawal(ctx, destination, amount, symbol)
	if sendErr != nil {
		if attempts+1 >= maxSettlementAttempts {
			return s.operations.Reject(ctx, operationID,
				fmt.Sprintf("provider rejected after %d attempts: %v", attempts+1, sendErr), nil)
		}
		return sendErr
	}

	if err := s.operations.StampExternalRef(ctx, operationID, ref); err != nil {
		return err
	}
	return s.operations.Commit(ctx, operationID)
}

// withdrawalAmount derives the outgoing amount and asset symbol from the
// withdrawal's main leg.
func withdrawalAmount(ctx context.Context, qtx *repository.Queries, operationID uuid.UUID) (decimal.Decimal, string, error) {
	legs, err := qtx.ListOperationLegs(ctx, operationID)
	if err != nil {
		return decimal.Zero, "", err
	}
	for _, leg := range legs {
		if leg.Transaction.LegRole() != domain.LegRoleMain {
			continue
		}
		asset, err := qtx.GetAsset(ctx, leg.AssetID)
		if err != nil {
			return decimal.Zero, "", err
		}
		return leg.Transaction.Amount.Abs(), asset.Symbol, nil
	}
	return decimal.Zero, "", fmt.Errorf("withdrawal %s has no main leg", operationID)
}
