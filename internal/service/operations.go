package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/observability"
	"github.com/veloxpay/backoffice/internal/repository"
)

// OperationService assembles multi-leg ledger operations and drives their
// lifecycle. Every assembly runs inside one storage transaction so a
// failed validation leaves nothing behind.
type OperationService struct {
	store QueryStore
	audit *AuditService
}

func NewOperationService(store QueryStore) *OperationService {
	return &OperationService{
		store: store,
		audit: NewAuditService(store),
	}
}

// legSpec is one planned posting. Role tags are persisted on the leg so
// the read side can derive display amounts without guessing.
type legSpec struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Role      string
}

// DepositParams describes a deposit assembly: money moves from a payment
// method clearing account into a user wallet, optionally minus a fee with
// its rounding remainder.
type DepositParams struct {
	PaymentAccountID  uuid.UUID
	UserAccountID     uuid.UUID
	Amount            decimal.Decimal
	FeeAccountID      *uuid.UUID
	FeeAmount         decimal.Decimal
	RoundingAccountID *uuid.UUID
	RoundingAmount    decimal.Decimal
	Method            string
	Description       string
	Refs              map[string]any
	Metadata          map[string]any
	Hold              bool
}

// CreateDeposit builds the deposit legs and runs the validate-then-hold
// protocol.
func (s *OperationService) CreateDeposit(ctx context.Context, p DepositParams) (*models.Operation, error) {
	if !p.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if p.FeeAccountID != nil && p.FeeAmount.IsNegative() {
		return nil, models.ErrNegativeFee
	}

	legs := []legSpec{
		{AccountID: p.PaymentAccountID, Amount: p.Amount.Neg(), Role: domain.LegRoleCounter},
		{AccountID: p.UserAccountID, Amount: p.Amount, Role: domain.LegRoleMain},
	}
	if p.FeeAccountID != nil && !p.FeeAmount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.UserAccountID, Amount: p.FeeAmount.Neg(), Role: domain.LegRoleFee},
			legSpec{AccountID: *p.FeeAccountID, Amount: p.FeeAmount, Role: domain.LegRoleFee},
		)
	}
	if p.RoundingAccountID != nil && !p.RoundingAmount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.PaymentAccountID, Amount: p.RoundingAmount, Role: domain.LegRoleRounding},
			legSpec{AccountID: *p.RoundingAccountID, Amount: p.RoundingAmount.Neg(), Role: domain.LegRoleRounding},
		)
	}

	op := &models.Operation{
		ID:          uuid.New(),
		Status:      domain.OpStatusNew,
		Type:        domain.OpTypeDeposit,
		Method:      p.Method,
		Description: p.Description,
		Refs:        p.Refs,
		Metadata:    p.Metadata,
	}
	return s.assemble(ctx, op, legs, p.Hold)
}

// WithdrawalParams is the mirror of DepositParams: money moves from a user
// wallet to a payment method clearing account.
type WithdrawalParams struct {
	UserAccountID     uuid.UUID
	PaymentAccountID  uuid.UUID
	Amount            decimal.Decimal
	FeeAccountID      *uuid.UUID
	FeeAmount         decimal.Decimal
	RoundingAccountID *uuid.UUID
	RoundingAmount    decimal.Decimal
	Method            string
	Description       string
	Refs              map[string]any
	Metadata          map[string]any
	Hold              bool
}

func (s *OperationService) CreateWithdrawal(ctx context.Context, p WithdrawalParams) (*models.Operation, error) {
	if !p.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if p.FeeAccountID != nil && p.FeeAmount.IsNegative() {
		return nil, models.ErrNegativeFee
	}

	legs := []legSpec{
		{AccountID: p.UserAccountID, Amount: p.Amount.Neg(), Role: domain.LegRoleMain},
		{AccountID: p.PaymentAccountID, Amount: p.Amount, Role: domain.LegRoleCounter},
	}
	if p.FeeAccountID != nil && !p.FeeAmount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.UserAccountID, Amount: p.FeeAmount.Neg(), Role: domain.LegRoleFee},
			legSpec{AccountID: *p.FeeAccountID, Amount: p.FeeAmount, Role: domain.LegRoleFee},
		)
	}
	if p.RoundingAccountID != nil && !p.RoundingAmount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.PaymentAccountID, Amount: p.RoundingAmount, Role: domain.LegRoleRounding},
			legSpec{AccountID: *p.RoundingAccountID, Amount: p.RoundingAmount.Neg(), Role: domain.LegRoleRounding},
		)
	}

	op := &models.Operation{
		ID:          uuid.New(),
		Status:      domain.OpStatusNew,
		Type:        domain.OpTypeWithdrawal,
		Method:      p.Method,
		Description: p.Description,
		Refs:        p.Refs,
		Metadata:    p.Metadata,
	}
	return s.assemble(ctx, op, legs, p.Hold)
}

// ExchangeRounding is one optional rounding leg pair on an exchange side.
// The pool account absorbs the remainder the clearing account sheds.
type ExchangeRounding struct {
	PoolAccountID uuid.UUID
	Amount        decimal.Decimal
}

// ExchangeParams describes a two-asset exchange. Exactly one of the base
// and quote amounts must be negative: the operation is a BUY when the base
// amount is positive, a SELL otherwise.
type ExchangeParams struct {
	BaseAccountID          uuid.UUID
	BaseExchangeAccountID  uuid.UUID
	BaseAmount             decimal.Decimal
	QuoteAccountID         uuid.UUID
	QuoteExchangeAccountID uuid.UUID
	QuoteAmount            decimal.Decimal
	FeeAccountID           uuid.UUID
	FeeAmount              decimal.Decimal
	BaseRounding           *ExchangeRounding
	QuoteRounding          *ExchangeRounding
	Description            string
	Refs                   map[string]any
	Metadata               map[string]any
	Hold                   bool
}

func (s *OperationService) CreateExchange(ctx context.Context, p ExchangeParams) (*models.Operation, error) {
	if !p.BaseAmount.Mul(p.QuoteAmount).IsNegative() {
		return nil, models.ErrInvalidExchangeDirection
	}
	if p.FeeAmount.IsNegative() {
		return nil, models.ErrNegativeFee
	}

	opType := domain.OpTypeSell
	if p.BaseAmount.IsPositive() {
		opType = domain.OpTypeBuy
	}

	legs := []legSpec{
		{AccountID: p.BaseAccountID, Amount: p.BaseAmount, Role: domain.LegRoleMain},
		{AccountID: p.BaseExchangeAccountID, Amount: p.BaseAmount.Neg(), Role: domain.LegRoleCounter},
		{AccountID: p.QuoteAccountID, Amount: p.QuoteAmount, Role: domain.LegRoleMain},
		{AccountID: p.QuoteExchangeAccountID, Amount: p.QuoteAmount.Neg(), Role: domain.LegRoleCounter},
	}
	if !p.FeeAmount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.QuoteAccountID, Amount: p.FeeAmount.Neg(), Role: domain.LegRoleFee},
			legSpec{AccountID: p.FeeAccountID, Amount: p.FeeAmount, Role: domain.LegRoleFee},
		)
	}
	if p.BaseRounding != nil && !p.BaseRounding.Amount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.BaseExchangeAccountID, Amount: p.BaseRounding.Amount, Role: domain.LegRoleRounding},
			legSpec{AccountID: p.BaseRounding.PoolAccountID, Amount: p.BaseRounding.Amount.Neg(), Role: domain.LegRoleRounding},
		)
	}
	if p.QuoteRounding != nil && !p.QuoteRounding.Amount.IsZero() {
		legs = append(legs,
			legSpec{AccountID: p.QuoteExchangeAccountID, Amount: p.QuoteRounding.Amount, Role: domain.LegRoleRounding},
			legSpec{AccountID: p.QuoteRounding.PoolAccountID, Amount: p.QuoteRounding.Amount.Neg(), Role: domain.LegRoleRounding},
		)
	}

	op := &models.Operation{
		ID:          uuid.New(),
		Status:      domain.OpStatusNew,
		Type:        opType,
		Description: p.Description,
		Refs:        p.Refs,
		Metadata:    p.Metadata,
	}
	return s.assemble(ctx, op, legs, p.Hold)
}

// RefundParams describes a refund of a committed deposit. The account pair
// is derived from the original deposit's legs, not supplied by the caller.
type RefundParams struct {
	Amount             decimal.Decimal
	DepositOperationID uuid.UUID
	Description        string
	Refs               map[string]any
	Metadata           map[string]any
	Hold               bool
}

// CreateRefund reverses the main account pair of a committed deposit.
// The deposit row is locked for the duration so a deposit can be refunded
// at most once even under concurrent callers.
func (s *OperationService) CreateRefund(ctx context.Context, p RefundParams) (*models.Operation, error) {
	if !p.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	op := &models.Operation{
		ID:          uuid.New(),
		Status:      domain.OpStatusNew,
		Type:        domain.OpTypeRefund,
		Description: p.Description,
		Refs:        p.Refs,
		Metadata:    p.Metadata,
	}

	var legs []legSpec
	prepare := func(ctx context.Context, qtx *repository.Queries) error {
		deposit, err := qtx.GetOperationForUpdate(ctx, p.DepositOperationID)
		if err != nil {
			return err
		}
		if deposit.Status != domain.OpStatusCommitted {
			return models.ErrRefundOfUncommittedDeposit
		}
		refunded, err := qtx.RefundExists(ctx, deposit.ID)
		if err != nil {
			return err
		}
		if refunded {
			return models.ErrAlreadyRefunded
		}

		depositLegs, err := qtx.ListOperationLegs(ctx, deposit.ID)
		if err != nil {
			return err
		}
		if len(depositLegs) < 2 {
			return fmt.Errorf("deposit %s has %d legs, cannot derive refund pair", deposit.ID, len(depositLegs))
		}
		// Legs arrive ordered by signed amount descending: the head
		// identifies the credited user account, the tail the debited
		// payment method account.
		userAccountID := depositLegs[0].Transaction.AccountID
		paymentAccountID := depositLegs[len(depositLegs)-1].Transaction.AccountID

		legs = []legSpec{
			{AccountID: userAccountID, Amount: p.Amount.Neg(), Role: domain.LegRoleMain},
			{AccountID: paymentAccountID, Amount: p.Amount, Role: domain.LegRoleCounter},
		}

		if op.Refs == nil {
			op.Refs = map[string]any{}
		}
		op.Refs[domain.RefKeyRefundOf] = deposit.ID.String()
		op.Method = deposit.Method

		refs := deposit.Refs
		if refs == nil {
			refs = map[string]any{}
		}
		refs[domain.RefKeyRefundedBy] = op.ID.String()
		rows, err := qtx.UpdateOperationRefs(ctx, deposit.ID, refs)
		if err != nil {
			return err
		}
		return requireExactlyOne(rows, "stamp refunded deposit")
	}

	created, err := s.assembleDeferred(ctx, op, func() []legSpec { return legs }, p.Hold, prepare)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// assemble creates the operation and its legs inside one transaction,
// validates the result, and optionally holds it. A validation failure
// rolls the whole transaction back, so a failed operation never persists
// in NEW state.
func (s *OperationService) assemble(ctx context.Context, op *models.Operation, legs []legSpec, hold bool) (*models.Operation, error) {
	return s.assembleDeferred(ctx, op, func() []legSpec { return legs }, hold, nil)
}

// assembleDeferred is assemble for callers whose leg set is only known
// after the prepare step ran under lock (refunds derive legs from the
// original deposit).
func (s *OperationService) assembleDeferred(ctx context.Context, op *models.Operation, legsFn func() []legSpec, hold bool, prepare func(context.Context, *repository.Queries) error) (*models.Operation, error) {
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if prepare != nil {
			if err := prepare(ctx, qtx); err != nil {
				return err
			}
		}

		legs := legsFn()
		if len(legs) == 0 {
			return fmt.Errorf("operation %s has no legs", op.ID)
		}
		if err := lockAccounts(ctx, qtx, legAccountIDs(legs)); err != nil {
			return err
		}

		if err := qtx.CreateOperation(ctx, op); err != nil {
			return err
		}
		for _, leg := range legs {
			t := &models.Transaction{
				ID:          uuid.New(),
				OperationID: op.ID,
				AccountID:   leg.AccountID,
				Amount:      leg.Amount,
				Refs:        map[string]any{domain.RefKeyLegRole: leg.Role},
			}
			if err := qtx.CreateTransaction(ctx, t); err != nil {
				return err
			}
		}

		if err := validateOperation(ctx, qtx, op.ID, true); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "operation", op.ID, nil, "created", "", op.Status, nil); err != nil {
			return err
		}

		if hold {
			if err := transitionOperation(ctx, qtx, s.audit, op.ID, domain.OpStatusHold, nil, "hold", nil); err != nil {
				return err
			}
			op.Status = domain.OpStatusHold
		}
		return nil
	})
	if err != nil {
		zap.L().Debug("operation assembly rolled back",
			zap.String("operation_id", op.ID.String()),
			zap.String("type", op.Type),
			zap.Error(err))
		return nil, err
	}

	observability.IncrementOperationTransition(op.Type, op.Status)
	return op, nil
}

// Legs returns an operation's transactions with their account and asset
// context.
func (s *OperationService) Legs(ctx context.Context, operationID uuid.UUID) ([]repository.OperationLegRow, error) {
	return s.store.Queries().ListOperationLegs(ctx, operationID)
}

// Get loads one operation.
func (s *OperationService) Get(ctx context.Context, operationID uuid.UUID) (*models.Operation, error) {
	return s.store.Queries().GetOperation(ctx, operationID)
}

// StampExternalRef records the payment provider's reference on the
// operation. The first recorded reference wins; provider retries that
// carry the same or another reference leave it untouched.
func (s *OperationService) StampExternalRef(ctx context.Context, operationID uuid.UUID, ref string) error {
	if ref == "" {
		return nil
	}
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		op, err := qtx.GetOperationForUpdate(ctx, operationID)
		if err != nil {
			return err
		}
		if op.Refs == nil {
			op.Refs = map[string]any{}
		}
		if _, ok := op.Refs[domain.RefKeyExternalID]; ok {
			return nil
		}
		op.Refs[domain.RefKeyExternalID] = ref
		rows, err := qtx.UpdateOperationRefs(ctx, operationID, op.Refs)
		if err != nil {
			return err
		}
		return requireExactlyOne(rows, "record provider reference")
	})
}

func legAccountIDs(legs []legSpec) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(legs))
	ids := make([]uuid.UUID, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.AccountID]; ok {
			continue
		}
		seen[leg.AccountID] = struct{}{}
		ids = append(ids, leg.AccountID)
	}
	return ids
}

// lockAccounts locks account rows in a consistent order to prevent
// deadlocks between concurrent assemblies touching the same accounts.
func lockAccounts(ctx context.Context, qtx *repository.Queries, ids []uuid.UUID) error {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if err := qtx.LockAccount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
