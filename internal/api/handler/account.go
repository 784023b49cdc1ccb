package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/service"
)

var validate = validator.New()

type AccountHandler struct {
	registry *service.AccountRegistry
	balances *service.BalanceService
	assets   *service.AssetService
}

func NewAccountHandler(registry *service.AccountRegistry, balances *service.BalanceService, assets *service.AssetService) *AccountHandler {
	return &AccountHandler{registry: registry, balances: balances, assets: assets}
}

// accountOwner extracts the owner stamped on the account at creation.
func accountOwner(account *models.Account) string {
	if account.Refs == nil {
		return ""
	}
	owner, _ := account.Refs["owner_id"].(string)
	return owner
}

func (h *AccountHandler) authorizeAccount(w http.ResponseWriter, r *http.Request, account *models.Account) bool {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return false
	}
	if !isAdmin && accountOwner(account) != actorID.String() {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return false
	}
	return true
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	account, err := h.registry.Account(r.Context(), accountID)
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("account lookup failed", zap.Error(err), zap.String("account_id", accountID.String()))
			RespondError(w, r, http.StatusInternalServerError, "account/read-failed", "Failed to load account")
		}
		return
	}
	if !h.authorizeAccount(w, r, account) {
		return
	}

	asset, err := h.assets.ByID(r.Context(), account.AssetID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/asset-read-failed", "Failed to load asset")
		return
	}
	settled, err := h.balances.CalculateBalance(r.Context(), accountID, false)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/balance-read-failed", "Failed to get balance")
		return
	}
	display, err := h.balances.DisplayBalance(r.Context(), accountID)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "account/balance-read-failed", "Failed to get balance")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"account_id":      account.ID,
		"asset":           asset.Symbol,
		"settled_balance": domain.FormatAmount(settled, asset.Precision),
		"display_balance": domain.FormatAmount(display, asset.Precision),
	})
}

func (h *AccountHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	account, err := h.registry.Account(r.Context(), accountID)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "account/read-failed", "Failed to load account")
		}
		return
	}
	if !h.authorizeAccount(w, r, account) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ops, err := h.balances.Statement(r.Context(), accountID, limit, page*limit)
	if err != nil {
		zap.L().Error("get statement failed", zap.Error(err), zap.String("account_id", accountID.String()))
		RespondError(w, r, http.StatusInternalServerError, "account/statement-read-failed", "Failed to get statement")
		return
	}

	entries := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		expired, _ := op.Refs[domain.RefKeyExpired].(bool)
		entries = append(entries, map[string]any{
			"operation_id": op.ID,
			"type":         op.Type,
			"method":       op.Method,
			"status":       service.StatusLabel(op.Status, op.Type, expired),
			"description":  op.Description,
			"created_at":   op.CreatedAt,
		})
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries, "page": page, "page_size": limit})
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		OwnerID string `json:"owner_id" validate:"required,uuid4_rfc4122|uuid_rfc4122"`
		Asset   string `json:"asset" validate:"required"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	if req.Purpose == "" {
		req.Purpose = domain.PurposeUserWallet
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-owner-id", "Invalid owner_id")
		return
	}
	if !isAdmin && ownerID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}
	if !isAdmin && req.Purpose != domain.PurposeUserWallet {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "only admins create system accounts")
		return
	}

	asset, err := h.assets.BySymbol(r.Context(), req.Asset)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "asset/read-failed", "Failed to load asset")
		}
		return
	}

	account, err := h.registry.GetOrCreateAccount(r.Context(), ownerID, asset.ID, req.Purpose)
	if err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create account failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to create account")
		return
	}

	RespondJSON(w, http.StatusCreated, account)
}

// CreateDepositAddress claims a pooled deposit address for the caller.
func (h *AccountHandler) CreateDepositAddress(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Asset string `json:"asset" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}

	asset, err := h.assets.BySymbol(r.Context(), req.Asset)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "asset/read-failed", "Failed to load asset")
		}
		return
	}
	if asset.Kind != domain.AssetKindCrypto {
		RespondError(w, r, http.StatusBadRequest, "address/fiat-asset", "deposit addresses exist only for crypto assets")
		return
	}

	addr, err := h.registry.ForCustomer(r.Context(), actorID, asset.ID)
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("claim deposit address failed", zap.Error(err), zap.String("customer_id", actorID.String()))
			RespondError(w, r, http.StatusInternalServerError, "address/claim-failed", "Failed to claim deposit address")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"address":    addr.Address,
		"account_id": addr.AccountID,
		"asset":      asset.Symbol,
	})
}

// LoadAddressPool loads pre-generated deposit addresses. Admin only.
func (h *AccountHandler) LoadAddressPool(w http.ResponseWriter, r *http.Request) {
	_, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	if !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	var req struct {
		Asset     string   `json:"asset" validate:"required"`
		Addresses []string `json:"addresses" validate:"required,min=1,dive,required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}

	asset, err := h.assets.BySymbol(r.Context(), req.Asset)
	if err != nil {
		if !mapServiceError(w, r, err) {
			RespondError(w, r, http.StatusInternalServerError, "asset/read-failed", "Failed to load asset")
		}
		return
	}

	if err := h.registry.AddPoolAddresses(r.Context(), asset.ID, req.Addresses); err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "address/pool-load-failed", "Failed to load address pool")
		return
	}

	size, _ := h.registry.PoolSize(r.Context(), asset.ID)
	RespondJSON(w, http.StatusCreated, map[string]any{"asset": asset.Symbol, "pool_size": size})
}
