package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veloxpay/backoffice/internal/api/middleware"
)

// AuthHandler mints short-lived tokens for back-office operators. Identity
// lives in an upstream service; this endpoint only exists for local and
// test environments where that service is absent.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	role := req.Role
	if role == "" {
		role = "user"
	}

	claims := jwt.MapClaims{
		"user_id": uid.String(),
		"role":    role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	}
	if issuer := middleware.JWTIssuer(); issuer != "" {
		claims["iss"] = issuer
	}
	if audience := middleware.JWTAudience(); audience != "" {
		claims["aud"] = audience
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/token-signing-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}
