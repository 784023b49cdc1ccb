package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/service"
)

type OperationHandler struct {
	ops      *service.OperationService
	registry *service.AccountRegistry
	rails    *service.RailResolver
	assets   *service.AssetService
}

func NewOperationHandler(ops *service.OperationService, registry *service.AccountRegistry, rails *service.RailResolver, assets *service.AssetService) *OperationHandler {
	return &OperationHandler{ops: ops, registry: registry, rails: rails, assets: assets}
}

// feePlan resolves the fee and rounding accounts for a charged amount.
type feePlan struct {
	FeeAccountID      *uuid.UUID
	FeeAmount         decimal.Decimal
	RoundingAccountID *uuid.UUID
	RoundingAmount    decimal.Decimal
}

func (h *OperationHandler) planFee(r *http.Request, amount decimal.Decimal, rate string, asset *models.Asset) (feePlan, error) {
	plan := feePlan{FeeAmount: decimal.Zero, RoundingAmount: decimal.Zero}
	if rate == "" {
		return plan, nil
	}
	feeRate, err := domain.ParseAmount(rate)
	if err != nil {
		return plan, err
	}
	if feeRate.IsZero() {
		return plan, nil
	}
	fee, remainder := domain.SplitFee(domain.PercentageFee(amount, feeRate), asset.Precision)
	if fee.IsPositive() {
		feeAccount, err := h.rails.FeeAccount(r.Context(), asset.ID)
		if err != nil {
			return plan, err
		}
		plan.FeeAccountID = &feeAccount.ID
		plan.FeeAmount = fee
	}
	if !remainder.IsZero() {
		roundingAccount, err := h.rails.RoundingAccount(r.Context(), asset.ID)
		if err != nil {
			return plan, err
		}
		plan.RoundingAccountID = &roundingAccount.ID
		plan.RoundingAmount = remainder
	}
	return plan, nil
}

type depositRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Asset       string `json:"asset" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Method      string `json:"method" validate:"required,oneof=CARD WIRE CRYPTO"`
	FeeRate     string `json:"fee_rate"`
	Description string `json:"description"`
}

func (h *OperationHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	if !isAdmin && userID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	asset, amount, ok := h.resolveAmount(w, r, req.Asset, req.Amount)
	if !ok {
		return
	}

	wallet, err := h.registry.GetOrCreateAccount(r.Context(), userID, asset.ID, domain.PurposeUserWallet)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve user wallet")
		return
	}
	clearing, err := h.rails.ClearingAccount(r.Context(), req.Method, asset.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve clearing account")
		return
	}
	plan, err := h.planFee(r, amount, req.FeeRate, asset)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-fee-rate", "Invalid fee_rate")
		return
	}

	op, err := h.ops.CreateDeposit(r.Context(), service.DepositParams{
		PaymentAccountID:  clearing.ID,
		UserAccountID:     wallet.ID,
		Amount:            amount,
		FeeAccountID:      plan.FeeAccountID,
		FeeAmount:         plan.FeeAmount,
		RoundingAccountID: plan.RoundingAccountID,
		RoundingAmount:    plan.RoundingAmount,
		Method:            req.Method,
		Description:       req.Description,
	})
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("create deposit failed", zap.Error(err), zap.String("user_id", userID.String()))
			RespondError(w, r, http.StatusInternalServerError, "operation/create-failed", "Failed to create deposit")
		}
		return
	}
	h.respondOperation(w, r, op, http.StatusCreated)
}

type withdrawalRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Asset       string `json:"asset" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Method      string `json:"method" validate:"required,oneof=CARD WIRE CRYPTO"`
	Destination string `json:"destination" validate:"required"`
	FeeRate     string `json:"fee_rate"`
	Description string `json:"description"`
}

func (h *OperationHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	if !isAdmin && userID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	asset, amount, ok := h.resolveAmount(w, r, req.Asset, req.Amount)
	if !ok {
		return
	}

	wallet, err := h.registry.GetOrCreateAccount(r.Context(), userID, asset.ID, domain.PurposeUserWallet)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve user wallet")
		return
	}
	clearing, err := h.rails.ClearingAccount(r.Context(), req.Method, asset.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve clearing account")
		return
	}
	plan, err := h.planFee(r, amount, req.FeeRate, asset)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-fee-rate", "Invalid fee_rate")
		return
	}

	op, err := h.ops.CreateWithdrawal(r.Context(), service.WithdrawalParams{
		PaymentAccountID:  clearing.ID,
		UserAccountID:     wallet.ID,
		Amount:            amount,
		FeeAccountID:      plan.FeeAccountID,
		FeeAmount:         plan.FeeAmount,
		RoundingAccountID: plan.RoundingAccountID,
		RoundingAmount:    plan.RoundingAmount,
		Method:            req.Method,
		Description:       req.Description,
		Refs:              map[string]any{domain.RefKeyDestination: req.Destination},
		Hold:              true,
	})
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("create withdrawal failed", zap.Error(err), zap.String("user_id", userID.String()))
			RespondError(w, r, http.StatusInternalServerError, "operation/create-failed", "Failed to create withdrawal")
		}
		return
	}
	h.respondOperation(w, r, op, http.StatusCreated)
}

type exchangeRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Side        string `json:"side" validate:"required,oneof=BUY SELL"`
	BaseAsset   string `json:"base_asset" validate:"required"`
	QuoteAsset  string `json:"quote_asset" validate:"required"`
	BaseAmount  string `json:"base_amount" validate:"required"`
	QuoteAmount string `json:"quote_amount" validate:"required"`
	FeeAmount   string `json:"fee_amount"`
	Description string `json:"description"`
}

func (h *OperationHandler) CreateExchange(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	if !isAdmin && userID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	baseAsset, baseAmount, ok := h.resolveAmount(w, r, req.BaseAsset, req.BaseAmount)
	if !ok {
		return
	}
	quoteAsset, quoteAmount, ok := h.resolveAmount(w, r, req.QuoteAsset, req.QuoteAmount)
	if !ok {
		return
	}
	feeAmount := decimal.Zero
	if req.FeeAmount != "" {
		if feeAmount, err = domain.ParseAmount(req.FeeAmount); err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Invalid fee_amount")
			return
		}
	}

	// The user receives the base on a BUY and spends it on a SELL.
	if req.Side == domain.OpTypeBuy {
		quoteAmount = quoteAmount.Neg()
	} else {
		baseAmount = baseAmount.Neg()
	}

	baseWallet, err := h.registry.GetOrCreateAccount(r.Context(), userID, baseAsset.ID, domain.PurposeUserWallet)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve base wallet")
		return
	}
	quoteWallet, err := h.registry.GetOrCreateAccount(r.Context(), userID, quoteAsset.ID, domain.PurposeUserWallet)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve quote wallet")
		return
	}
	baseClearing, err := h.rails.ExchangeAccount(r.Context(), baseAsset.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve base clearing account")
		return
	}
	quoteClearing, err := h.rails.ExchangeAccount(r.Context(), quoteAsset.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve quote clearing account")
		return
	}
	feeAccount, err := h.rails.FeeAccount(r.Context(), quoteAsset.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to resolve fee account")
		return
	}

	op, err := h.ops.CreateExchange(r.Context(), service.ExchangeParams{
		BaseAccountID:          baseWallet.ID,
		BaseExchangeAccountID:  baseClearing.ID,
		BaseAmount:             baseAmount,
		QuoteAccountID:         quoteWallet.ID,
		QuoteExchangeAccountID: quoteClearing.ID,
		QuoteAmount:            quoteAmount,
		FeeAccountID:           feeAccount.ID,
		FeeAmount:              feeAmount,
		Description:            req.Description,
		Hold:                   true,
	})
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("create exchange failed", zap.Error(err), zap.String("user_id", userID.String()))
			RespondError(w, r, http.StatusInternalServerError, "operation/create-failed", "Failed to create exchange")
		}
		return
	}
	h.respondOperation(w, r, op, http.StatusCreated)
}

type refundRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description"`
}

func (h *OperationHandler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	_, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	if !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	depositID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-operation-id", "Invalid operation ID")
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Invalid amount")
		return
	}

	op, err := h.ops.CreateRefund(r.Context(), service.RefundParams{
		Amount:             amount,
		DepositOperationID: depositID,
		Description:        req.Description,
		Hold:               true,
	})
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("create refund failed", zap.Error(err), zap.String("deposit_id", depositID.String()))
			RespondError(w, r, http.StatusInternalServerError, "operation/create-failed", "Failed to create refund")
		}
		return
	}
	h.respondOperation(w, r, op, http.StatusCreated)
}

func (h *OperationHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	if _, _, err := requestActor(r); err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	operationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-operation-id", "Invalid operation ID")
		return
	}
	op, err := h.ops.Get(r.Context(), operationID)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "operation/read-failed", "Failed to load operation")
		}
		return
	}
	h.respondOperation(w, r, op, http.StatusOK)
}

// Transition applies an admin lifecycle action to an operation.
func (h *OperationHandler) Transition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, isAdmin, err := requestActor(r)
		if err != nil {
			RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
			return
		}
		if !isAdmin {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
		operationID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-operation-id", "Invalid operation ID")
			return
		}

		switch action {
		case "hold":
			err = h.ops.Hold(r.Context(), operationID)
		case "commit":
			err = h.ops.Commit(r.Context(), operationID)
		case "cancel":
			err = h.ops.Cancel(r.Context(), operationID, &actorID)
		case "require-action":
			err = h.ops.RequireAction(r.Context(), operationID, &actorID)
		case "resume":
			err = h.ops.Resume(r.Context(), operationID, &actorID)
		case "reject":
			var req struct {
				Reason string `json:"reason" validate:"required"`
			}
			if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
				RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
				return
			}
			if validateErr := validate.Struct(req); validateErr != nil {
				RespondError(w, r, http.StatusBadRequest, "request/validation-failed", validateErr.Error())
				return
			}
			err = h.ops.Reject(r.Context(), operationID, req.Reason, &actorID)
		default:
			RespondError(w, r, http.StatusNotFound, "resource/not-found", "unknown action")
			return
		}
		if err != nil {
			if !mapServiceError(w, r, err) {
				zap.L().Error("operation transition failed",
					zap.Error(err), zap.String("action", action),
					zap.String("operation_id", operationID.String()))
				RespondError(w, r, http.StatusConflict, "operation/transition-failed", err.Error())
			}
			return
		}

		op, err := h.ops.Get(r.Context(), operationID)
		if err != nil {
			// Deleted during a failed hold: report that outcome.
			if !mapServiceError(w, r, err) {
				RespondError(w, r, http.StatusInternalServerError, "operation/read-failed", "Failed to load operation")
			}
			return
		}
		h.respondOperation(w, r, op, http.StatusOK)
	}
}

func (h *OperationHandler) resolveAmount(w http.ResponseWriter, r *http.Request, symbol, raw string) (*models.Asset, decimal.Decimal, bool) {
	asset, err := h.assets.BySymbol(r.Context(), symbol)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "asset/read-failed", "Failed to load asset")
		}
		return nil, decimal.Zero, false
	}
	amount, err := domain.ParseAmount(raw)
	if err != nil || !amount.IsPositive() {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Invalid amount")
		return nil, decimal.Zero, false
	}
	return asset, domain.Quantize(amount, asset.Precision), true
}

func (h *OperationHandler) respondOperation(w http.ResponseWriter, r *http.Request, op *models.Operation, status int) {
	legs, err := h.ops.Legs(r.Context(), op.ID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "operation/read-failed", "Failed to load operation legs")
		return
	}
	amounts := service.OperationAmounts(legs)
	expired, _ := op.Refs[domain.RefKeyExpired].(bool)

	RespondJSON(w, status, map[string]any{
		"operation":     op,
		"status_label":  service.StatusLabel(op.Status, op.Type, expired),
		"debit_amount":  amounts.Debit.String(),
		"credit_amount": amounts.Credit.String(),
		"fee_amount":    amounts.Fee.String(),
	})
}
