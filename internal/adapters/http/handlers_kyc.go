package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

func (h *Handler) kycCreatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
		return
	}

	res, err := h.service.CreatePayment(r.Context(), actor, domain.PaymentPurposeKYCFee)
	if err != nil {
		writeMappedError(r.Context(), w, "kyc_create_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) kycVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
		return
	}

	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "kyc_verify_payment", err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid orderId")
		return
	}

	res, err := h.service.VerifyPayment(r.Context(), actor, orderID)
	if err != nil {
		writeMappedError(r.Context(), w, "kyc_verify_payment", err)
		return
	}
	if res.Status == domain.PaymentStatusFailed {
		logHTTPOperationError(r.Context(), "kyc_verify_payment", http.StatusBadRequest, "PAYMENT_FAILED", "payment was not completed", nil)
		writeError(w, http.StatusBadRequest, "PAYMENT_FAILED", "payment was not completed")
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
