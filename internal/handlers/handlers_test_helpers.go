package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"onramp/internal/auth"
	"onramp/internal/config"
	"onramp/internal/gateway"
	"onramp/internal/models"
	"onramp/internal/services"
	"onramp/internal/store"
	"onramp/internal/websocket"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "test-webhook-secret"
)

type stubDepositService struct {
	createFn func(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error)
	refundFn func(ctx context.Context, depositID, actorUserID string) (models.Deposit, error)
}

func (s stubDepositService) Create(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error) {
	if s.createFn == nil {
		return services.CreateDepositResult{}, nil
	}
	return s.createFn(ctx, req)
}

func (s stubDepositService) Refund(ctx context.Context, depositID, actorUserID string) (models.Deposit, error) {
	if s.refundFn == nil {
		return models.Deposit{}, nil
	}
	return s.refundFn(ctx, depositID, actorUserID)
}

type stubDepositReader struct {
	getByPublicIDFn func(ctx context.Context, publicID string) (models.Deposit, error)
	listByUserFn    func(ctx context.Context, userID string, limit, offset int) ([]models.Deposit, error)
}

func (s stubDepositReader) GetByPublicID(ctx context.Context, publicID string) (models.Deposit, error) {
	if s.getByPublicIDFn == nil {
		return models.Deposit{}, store.ErrNotFound
	}
	return s.getByPublicIDFn(ctx, publicID)
}

func (s stubDepositReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Deposit, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

type stubWebhookService struct {
	ingestFn func(ctx context.Context, event gateway.Event) error
}

func (s stubWebhookService) Ingest(ctx context.Context, event gateway.Event) error {
	if s.ingestFn == nil {
		return nil
	}
	return s.ingestFn(ctx, event)
}

type stubWalletService struct {
	resolveFn func(ctx context.Context, userID, networkID string) (models.Wallet, error)
}

func (s stubWalletService) ResolvePrimary(ctx context.Context, userID, networkID string) (models.Wallet, error) {
	if s.resolveFn == nil {
		return models.Wallet{}, nil
	}
	return s.resolveFn(ctx, userID, networkID)
}

type stubAuditReader struct {
	listByEntityFn func(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
	listBetweenFn  func(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditReader) ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	if s.listByEntityFn == nil {
		return nil, nil
	}
	return s.listByEntityFn(ctx, entityType, entityID, limit, offset)
}

func (s stubAuditReader) ListBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AuditLog, error) {
	if s.listBetweenFn == nil {
		return nil, nil
	}
	return s.listBetweenFn(ctx, from, to, limit, offset)
}

type stubAdminChecker struct {
	isAdminFn func(ctx context.Context, userID string) (bool, error)
}

func (s stubAdminChecker) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if s.isAdminFn == nil {
		return true, nil
	}
	return s.isAdminFn(ctx, userID)
}

type stubComplianceService struct {
	blockFn func(ctx context.Context, req services.BlockAddressRequest) error
}

func (s stubComplianceService) Block(ctx context.Context, req services.BlockAddressRequest) error {
	if s.blockFn == nil {
		return nil
	}
	return s.blockFn(ctx, req)
}

type stubEventReader struct {
	listUnprocessedFn func(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

func (s stubEventReader) ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if s.listUnprocessedFn == nil {
		return nil, nil
	}
	return s.listUnprocessedFn(ctx, limit)
}

func newTestHandler(service DepositService, deposits DepositReader, webhooks WebhookService, wallets WalletService, audit AuditReader) *Handler {
	handler := newAdminTestHandler(service, deposits, webhooks, wallets, audit, stubAdminChecker{})
	return handler
}

func newAdminTestHandler(service DepositService, deposits DepositReader, webhooks WebhookService, wallets WalletService, audit AuditReader, admins stubAdminChecker) *Handler {
	cfg := config.Config{
		AppEnv:               "test",
		JWTSecret:            testJWTSecret,
		TokenTTL:             time.Minute,
		AllowedOrigins:       "*",
		GatewayWebhookSecret: testWebhookSecret,
	}
	return New(cfg, service, deposits, webhooks, wallets, audit, admins, stubComplianceService{}, stubEventReader{}, websocket.NewHub())
}

func serveAuthed(t *testing.T, handler *Handler, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken(testJWTSecret, userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}
