package handlers

import (
	"net/http"

	"onramp/internal/middleware"
)

func (h *Handler) ResolvePrimaryWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	networkID := r.URL.Query().Get("network_id")
	if networkID == "" {
		respondError(w, http.StatusBadRequest, "network_id is required")
		return
	}
	wallet, err := h.wallets.ResolvePrimary(r.Context(), userID, networkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}
