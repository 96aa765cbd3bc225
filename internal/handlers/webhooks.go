package handlers

import (
	"errors"
	"io"
	"net/http"

	"onramp/internal/apperr"
	"onramp/internal/gateway"
)

// GatewayWebhook receives signed gateway notifications. A non-2xx response
// makes the gateway redeliver, which the ingestion guard is built to absorb.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	event, err := gateway.VerifyEvent(raw, h.cfg.GatewayWebhookSecret)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.webhooks.Ingest(r.Context(), event); err != nil {
		var retry *apperr.RetryLater
		if errors.As(err, &retry) {
			respondError(w, http.StatusServiceUnavailable, "retry later")
			return
		}
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"received": event.ID})
}
