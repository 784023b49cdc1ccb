package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veloxpay/backoffice/internal/api/middleware"
	"github.com/veloxpay/backoffice/internal/api/problem"
	"github.com/veloxpay/backoffice/internal/models"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

// mapServiceError translates domain errors into problem responses.
// Returns false when the error is not a recognized domain failure.
func mapServiceError(w http.ResponseWriter, r *http.Request, err error) bool {
	var (
		opBalance  *models.OperationBalanceError
		acctBal    *models.AccountBalanceError
		strictness *models.AccountStrictnessError
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, models.ErrOperationNotFound),
		errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrAssetNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "resource not found")
	case errors.Is(err, models.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "operation/invalid-amount", "amount must be positive")
	case errors.Is(err, models.ErrInvalidExchangeDirection):
		RespondError(w, r, http.StatusBadRequest, "operation/invalid-exchange-direction", "base and quote amounts must have opposite signs")
	case errors.Is(err, models.ErrNegativeFee):
		RespondError(w, r, http.StatusBadRequest, "operation/negative-fee", "fee must not be negative")
	case errors.Is(err, models.ErrRefundOfUncommittedDeposit):
		RespondError(w, r, http.StatusConflict, "refund/deposit-not-committed", "only committed deposits can be refunded")
	case errors.Is(err, models.ErrAlreadyRefunded):
		RespondError(w, r, http.StatusConflict, "refund/already-refunded", "deposit already has a live refund")
	case errors.Is(err, models.ErrResourcePoolExhausted):
		RespondError(w, r, http.StatusServiceUnavailable, "address/pool-exhausted", "no deposit addresses available")
	case errors.As(err, &opBalance):
		RespondError(w, r, http.StatusUnprocessableEntity, "operation/unbalanced", "operation legs do not sum to zero")
	case errors.As(err, &acctBal):
		RespondError(w, r, http.StatusUnprocessableEntity, "account/balance-constraint", acctBal.Reason)
	case errors.As(err, &strictness):
		RespondError(w, r, http.StatusUnprocessableEntity, "account/strictness-constraint", strictness.Reason)
	default:
		return false
	}
	return true
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
