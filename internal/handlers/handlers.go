package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"onramp/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps taxonomy variants to HTTP statuses; anything user
// facing gets its generic message, everything else a bland 500.
func respondAppError(w http.ResponseWriter, err error) {
	var validation *apperr.ValidationFailed
	if errors.As(err, &validation) {
		respondError(w, http.StatusBadRequest, validation.UserMessage())
		return
	}
	var declined *apperr.GatewayDeclined
	if errors.As(err, &declined) {
		respondError(w, http.StatusPaymentRequired, declined.UserMessage())
		return
	}
	var stale *apperr.StaleTransition
	if errors.As(err, &stale) {
		respondError(w, http.StatusConflict, "deposit state changed, refresh and retry")
		return
	}
	var facing apperr.UserFacing
	if errors.As(err, &facing) {
		respondError(w, http.StatusUnprocessableEntity, facing.UserMessage())
		return
	}
	respondError(w, http.StatusInternalServerError, "something went wrong")
}
