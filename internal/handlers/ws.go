package handlers

import (
	"net/http"

	"onramp/internal/auth"
	"onramp/internal/websocket"
)

// WSDeposits streams deposit status updates. Browsers cannot set headers on
// websocket upgrades, so the token rides in the query string.
func (h *Handler) WSDeposits(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
