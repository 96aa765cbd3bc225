package handlers

import (
	"net/http"

	"onramp/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Post("/webhooks/gateway", h.GatewayWebhook)
	router.Get("/ws/deposits", h.WSDeposits)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Post("/deposits", h.CreateDeposit)
		r.Get("/deposits", h.ListDeposits)
		r.Get("/deposits/{publicID}", h.GetDeposit)
		r.Get("/wallets/primary", h.ResolvePrimaryWallet)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireAdmin(h.admins))
		r.Get("/audit", h.AdminListAudit)
		r.Get("/webhooks/unprocessed", h.AdminListUnprocessedWebhooks)
		r.Post("/blacklist", h.AdminBlockAddress)
		r.Post("/deposits/{publicID}/refund", h.AdminRefundDeposit)
	})

	return router
}
