package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"onramp/internal/middleware"
	"onramp/internal/services"
	"onramp/internal/store"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) AdminListAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType != "" && entityID != "" {
		logs, err := h.audit.ListByEntity(r.Context(), entityType, entityID, limit, offset)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "something went wrong")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
		return
	}

	from, to, err := parseWindow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.audit.ListBetween(r.Context(), from, to, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (h *Handler) AdminRefundDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	publicID := chi.URLParam(r, "publicID")
	deposit, err := h.deposits.GetByPublicID(r.Context(), publicID)
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "deposit not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	refunded, err := h.service.Refund(r.Context(), deposit.ID, actorID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, refunded)
}

// AdminListUnprocessedWebhooks surfaces events still awaiting processing,
// including those parked for manual review after exhausting their retries.
func (h *Handler) AdminListUnprocessedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := h.events.ListUnprocessed(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"webhook_events": events})
}

type blockAddressRequest struct {
	Address   string     `json:"address"`
	NetworkID *string    `json:"network_id,omitempty"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) AdminBlockAddress(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req blockAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.compliance.Block(r.Context(), services.BlockAddressRequest{
		Address:     req.Address,
		NetworkID:   req.NetworkID,
		Reason:      req.Reason,
		ActorUserID: actorID,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "blocked"})
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}
