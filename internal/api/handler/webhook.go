package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/service"
)

// WebhookHandler processes provider callbacks that confirm or fail
// payments. Signatures are HMAC-SHA256 over the raw body.
type WebhookHandler struct {
	ops           *service.OperationService
	repair        *service.RepairService
	hmacKey       []byte
	skipSignature bool
}

func NewWebhookHandler(ops *service.OperationService, repair *service.RepairService, hmacKey string, skipSignature bool) *WebhookHandler {
	return &WebhookHandler{
		ops:           ops,
		repair:        repair,
		hmacKey:       []byte(hmacKey),
		skipSignature: skipSignature,
	}
}

type webhookEvent struct {
	Event       string `json:"event" validate:"required,oneof=payment.confirmed payment.failed"`
	OperationID string `json:"operation_id" validate:"required"`
	Amount      string `json:"amount"`
	ExternalID  string `json:"external_id"`
}

// HandlePaymentWebhook handles POST /v1/webhooks/payments.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "webhook/unreadable-body", "Failed to read request body")
		return
	}
	if !h.verify(body, r.Header.Get("X-Webhook-Signature")) {
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid webhook payload")
		return
	}
	if err := validate.Struct(event); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
		return
	}
	operationID, err := uuid.Parse(event.OperationID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-operation-id", "Invalid operation_id")
		return
	}

	switch event.Event {
	case "payment.confirmed":
		err = h.confirm(r, operationID, event)
	case "payment.failed":
		err = h.ops.Cancel(r.Context(), operationID, nil)
	}
	if err != nil {
		if !mapServiceError(w, r, err) {
			zap.L().Error("process payment webhook failed",
				zap.Error(err), zap.String("operation_id", operationID.String()),
				zap.String("event", event.Event))
			RespondError(w, r, http.StatusConflict, "webhook/processing-failed", err.Error())
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// confirm finalizes a deposit: fill in the confirmed amount while the
// operation is still NEW, then hold and commit. Providers retry webhooks,
// so every step tolerates having already happened.
func (h *WebhookHandler) confirm(r *http.Request, operationID uuid.UUID, event webhookEvent) error {
	op, err := h.ops.Get(r.Context(), operationID)
	if err != nil {
		return err
	}
	if op.Status == domain.OpStatusCommitted {
		return nil
	}

	if op.Status == domain.OpStatusNew {
		if event.Amount != "" {
			amount, err := domain.ParseAmount(event.Amount)
			if err != nil {
				return err
			}
			if err := h.repair.FillAmount(r.Context(), operationID, amount); err != nil {
				return err
			}
		}
		if err := h.ops.Hold(r.Context(), operationID); err != nil {
			return err
		}
	}
	if err := h.ops.StampExternalRef(r.Context(), operationID, event.ExternalID); err != nil {
		return err
	}
	return h.ops.Commit(r.Context(), operationID)
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	if h.skipSignature {
		return true
	}
	if signature == "" || len(h.hmacKey) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.hmacKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
