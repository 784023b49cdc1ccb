package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/observability"
	"github.com/veloxpay/backoffice/internal/repository"
)

// operationTransitions is the legal state graph. COMMITTED, CANCELLED and
// DELETED are terminal.
var operationTransitions = map[string]map[string]struct{}{
	domain.OpStatusNew: {
		domain.OpStatusHold:      {},
		domain.OpStatusCancelled: {},
		domain.OpStatusDeleted:   {},
	},
	domain.OpStatusHold: {
		domain.OpStatusCommitted:      {},
		domain.OpStatusCancelled:      {},
		domain.OpStatusDeleted:        {},
		domain.OpStatusActionRequired: {},
	},
	domain.OpStatusActionRequired: {
		domain.OpStatusHold:      {},
		domain.OpStatusCancelled: {},
	},
	domain.OpStatusCommitted: {},
	domain.OpStatusCancelled: {},
	domain.OpStatusDeleted:   {},
}

func canTransition(current, next string) bool {
	nextStates, ok := operationTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// Hold re-validates a NEW operation against the reserved balance view and
// moves it to HOLD. On validation failure the operation and its legs are
// deleted; a failed hold never leaves a NEW operation behind.
func (s *OperationService) Hold(ctx context.Context, operationID uuid.UUID) error {
	var opType string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		opType = op.Type
		if op.Status != domain.OpStatusNew {
			return fmt.Errorf("hold called on %s operation %s", op.Status, op.ID)
		}
		if err := s.lockOperationAccounts(ctx, qtx, operationID); err != nil {
			return err
		}
		if err := validateOperation(ctx, qtx, operationID, true); err != nil {
			return err
		}
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusHold, nil, "hold", nil)
	})
	if err != nil {
		if isValidationError(err) {
			s.deleteFailedHold(ctx, operationID)
		}
		return err
	}
	observability.IncrementOperationTransition(opType, domain.OpStatusHold)
	return nil
}

// deleteFailedHold removes a NEW operation whose hold validation failed.
// It runs in its own transaction because the validating one rolled back.
func (s *OperationService) deleteFailedHold(ctx context.Context, operationID uuid.UUID) {
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		if op.Status != domain.OpStatusNew {
			return nil
		}
		if err := qtx.DeleteOperation(ctx, operationID); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, "operation", operationID, nil, "hold_failed_deleted", domain.OpStatusNew, "", nil)
	})
	if err != nil {
		zap.L().Error("failed to delete operation after hold validation failure",
			zap.String("operation_id", operationID.String()), zap.Error(err))
	}
}

// isValidationError reports whether the error is a ledger validity
// failure, as opposed to an infrastructure error.
func isValidationError(err error) bool {
	var opErr *models.OperationBalanceError
	var accErr *models.AccountBalanceError
	var strictErr *models.AccountStrictnessError
	return errors.As(err, &opErr) || errors.As(err, &accErr) || errors.As(err, &strictErr)
}

// Commit settles a held operation. Only HOLD commits; anything else is a
// programming error at the call site. Validation runs against the settled
// view (NEW excluded).
func (s *OperationService) Commit(ctx context.Context, operationID uuid.UUID) error {
	var opType string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		opType = op.Type
		if op.Status != domain.OpStatusHold {
			return fmt.Errorf("commit called on %s operation %s", op.Status, op.ID)
		}
		if err := s.lockOperationAccounts(ctx, qtx, operationID); err != nil {
			return err
		}
		if err := validateOperation(ctx, qtx, operationID, false); err != nil {
			return err
		}
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusCommitted, nil, "commit", nil)
	})
	if err != nil {
		return err
	}
	observability.IncrementOperationTransition(opType, domain.OpStatusCommitted)
	return nil
}

// Cancel moves an operation to CANCELLED without re-validation. Cancelled
// legs are excluded from all future balance aggregation.
func (s *OperationService) Cancel(ctx context.Context, operationID uuid.UUID, actorID *uuid.UUID) error {
	var opType string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		opType = op.Type
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusCancelled, actorID, "cancel", nil)
	})
	if err != nil {
		return err
	}
	observability.IncrementOperationTransition(opType, domain.OpStatusCancelled)
	return nil
}

// Reject marks a NEW or HOLD operation DELETED, recording why. Used when
// a downstream business check (a limit, a compliance rule, a settlement
// gateway) fails after assembly validated fine.
func (s *OperationService) Reject(ctx context.Context, operationID uuid.UUID, reason string, actorID *uuid.UUID) error {
	var opType string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		opType = op.Type

		refs := op.Refs
		if refs == nil {
			refs = map[string]any{}
		}
		refs[domain.RefKeyRejectReason] = reason
		rows, err := qtx.UpdateOperationRefs(ctx, operationID, refs)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "stamp reject reason"); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"reason": reason})
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusDeleted, actorID, "reject", meta)
	})
	if err != nil {
		return err
	}
	observability.IncrementOperationTransition(opType, domain.OpStatusDeleted)
	return nil
}

// RequireAction flags a held operation as needing out-of-band input (for
// example extra verification on a withdrawal) without releasing the hold.
func (s *OperationService) RequireAction(ctx context.Context, operationID uuid.UUID, actorID *uuid.UUID) error {
	var opType string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		opType = op.Type
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusActionRequired, actorID, "require_action", nil)
	})
	if err != nil {
		return err
	}
	observability.IncrementOperationTransition(opType, domain.OpStatusActionRequired)
	return nil
}

// Resume returns an ACTION_REQUIRED operation to HOLD once the out-of-band
// requirement is met.
func (s *OperationService) Resume(ctx context.Context, operationID uuid.UUID, actorID *uuid.UUID) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := qtx.GetOperationForUpdate(ctx, operationID); err != nil {
			return err
		}
		return transitionOperation(ctx, qtx, s.audit, operationID, domain.OpStatusHold, actorID, "resume", nil)
	})
}

func (s *OperationService) lockOperationAccounts(ctx context.Context, qtx *repository.Queries, operationID uuid.UUID) error {
	legs, err := qtx.ListOperationLegs(ctx, operationID)
	if err != nil {
		return err
	}
	return lockAccounts(ctx, qtx, legRowAccountIDs(legs))
}

// transitionOperation applies one state transition under the caller's row
// lock and writes the audit record.
func transitionOperation(ctx context.Context, qtx *repository.Queries, audit *AuditService, operationID uuid.UUID, nextState string, actorID *uuid.UUID, action string, metadata []byte) error {
	op, err := qtx.GetOperation(ctx, operationID)
	if err != nil {
		return err
	}
	if op.Status == nextState {
		return nil
	}
	if !canTransition(op.Status, nextState) {
		return fmt.Errorf("invalid operation state transition: %s -> %s", op.Status, nextState)
	}

	rows, err := qtx.UpdateOperationStatus(ctx, operationID, nextState)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "update operation status"); err != nil {
		return err
	}
	return audit.Write(ctx, qtx, "operation", operationID, actorID, action, op.Status, nextState, metadata)
}
