package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"onramp/internal/middleware"
	"onramp/internal/services"
	"onramp/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type createDepositRequest struct {
	WalletID       string  `json:"wallet_id"`
	AmountCents    int64   `json:"amount_cents"`
	FeeCents       int64   `json:"fee_cents"`
	TokenAmount    string  `json:"token_amount"`
	ExchangeRate   string  `json:"exchange_rate"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	tokenAmount, err := decimal.NewFromString(req.TokenAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token amount")
		return
	}
	exchangeRate, err := decimal.NewFromString(req.ExchangeRate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exchange rate")
		return
	}

	result, err := h.service.Create(r.Context(), services.CreateDepositRequest{
		UserID:         userID,
		WalletID:       req.WalletID,
		AmountCents:    req.AmountCents,
		FeeCents:       req.FeeCents,
		TokenAmount:    tokenAmount,
		ExchangeRate:   exchangeRate,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"deposit":      result.Deposit,
		"checkout_url": result.CheckoutURL,
	})
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	publicID := chi.URLParam(r, "publicID")
	deposit, err := h.deposits.GetByPublicID(r.Context(), publicID)
	if err == store.ErrNotFound || (err == nil && deposit.UserID != userID) {
		respondError(w, http.StatusNotFound, "deposit not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, deposit)
}

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	deposits, err := h.deposits.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
