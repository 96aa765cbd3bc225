package handlers

import (
	"context"
	"time"

	"onramp/internal/config"
	"onramp/internal/gateway"
	"onramp/internal/middleware"
	"onramp/internal/models"
	"onramp/internal/services"
	"onramp/internal/websocket"
)

type DepositService interface {
	Create(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error)
	Refund(ctx context.Context, depositID, actorUserID string) (models.Deposit, error)
}

type DepositReader interface {
	GetByPublicID(ctx context.Context, publicID string) (models.Deposit, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Deposit, error)
}

type WebhookService interface {
	Ingest(ctx context.Context, event gateway.Event) error
}

type WalletService interface {
	ResolvePrimary(ctx context.Context, userID, networkID string) (models.Wallet, error)
}

type AuditReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
	ListBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AuditLog, error)
}

type ComplianceService interface {
	Block(ctx context.Context, req services.BlockAddressRequest) error
}

type WebhookEventReader interface {
	ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type Handler struct {
	cfg        config.Config
	service    DepositService
	deposits   DepositReader
	webhooks   WebhookService
	wallets    WalletService
	audit      AuditReader
	admins     middleware.AdminChecker
	compliance ComplianceService
	events     WebhookEventReader
	hub        *websocket.Hub
}

func New(cfg config.Config, service DepositService, deposits DepositReader, webhooks WebhookService, wallets WalletService, audit AuditReader, admins middleware.AdminChecker, compliance ComplianceService, events WebhookEventReader, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:        cfg,
		service:    service,
		deposits:   deposits,
		webhooks:   webhooks,
		wallets:    wallets,
		audit:      audit,
		admins:     admins,
		compliance: compliance,
		events:     events,
		hub:        hub,
	}
}
