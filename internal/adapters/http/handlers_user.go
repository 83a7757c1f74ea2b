package http

import (
	"net/http"
)

func (h *Handler) suspensionStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
		return
	}

	res, err := h.service.SuspensionStatus(r.Context(), actor)
	if err != nil {
		writeMappedError(r.Context(), w, "suspension_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) payReactivationFee(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
		return
	}

	res, err := h.service.PayReactivationFee(r.Context(), actor)
	if err != nil {
		writeMappedError(r.Context(), w, "pay_reactivation_fee", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
