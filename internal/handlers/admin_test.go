package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"onramp/internal/apperr"
	"onramp/internal/models"
	"onramp/internal/services"
)

func denyAllAdmins(t *testing.T, expectUserID string) stubAdminChecker {
	return stubAdminChecker{
		isAdminFn: func(_ context.Context, userID string) (bool, error) {
			if userID != expectUserID {
				t.Fatalf("unexpected admin check for %s", userID)
			}
			return false, nil
		},
	}
}

func TestAdminRefundForbiddenForNonAdmin(t *testing.T) {
	handler := newAdminTestHandler(stubDepositService{
		refundFn: func(context.Context, string, string) (models.Deposit, error) {
			t.Fatal("refund must not run for a non-admin caller")
			return models.Deposit{}, nil
		},
	}, stubDepositReader{
		getByPublicIDFn: func(context.Context, string) (models.Deposit, error) {
			t.Fatal("deposit lookup must not run for a non-admin caller")
			return models.Deposit{}, nil
		},
	}, stubWebhookService{}, stubWalletService{}, stubAuditReader{}, denyAllAdmins(t, "user-2"))

	// A deposit owned by someone else; an ordinary authenticated user must
	// not be able to refund it.
	req := httptest.NewRequest(http.MethodPost, "/admin/deposits/pub-1/refund", nil)
	rr := serveAuthed(t, handler, req, "user-2")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminAuditForbiddenForNonAdmin(t *testing.T) {
	handler := newAdminTestHandler(stubDepositService{}, stubDepositReader{}, stubWebhookService{}, stubWalletService{}, stubAuditReader{}, denyAllAdmins(t, "user-2"))

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	rr := serveAuthed(t, handler, req, "user-2")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(stubDepositService{}, stubDepositReader{}, stubWebhookService{}, stubWalletService{}, stubAuditReader{})
	req := httptest.NewRequest(http.MethodPost, "/admin/deposits/pub-1/refund", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminListUnprocessedWebhooks(t *testing.T) {
	handler := newTestHandler(stubDepositService{}, stubDepositReader{}, stubWebhookService{}, stubWalletService{}, stubAuditReader{})
	handler.events = stubEventReader{
		listUnprocessedFn: func(_ context.Context, limit int) ([]models.WebhookEvent, error) {
			if limit != 50 {
				t.Fatalf("unexpected limit: %d", limit)
			}
			return []models.WebhookEvent{{GatewayEventID: "evt-1"}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/unprocessed", nil)
	rr := serveAuthed(t, handler, req, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "evt-1") {
		t.Fatalf("expected event in body, got %s", rr.Body.String())
	}
}

func TestAdminBlockAddress(t *testing.T) {
	var blocked services.BlockAddressRequest
	handler := newTestHandler(stubDepositService{}, stubDepositReader{}, stubWebhookService{}, stubWalletService{}, stubAuditReader{})
	handler.compliance = stubComplianceService{
		blockFn: func(_ context.Context, req services.BlockAddressRequest) error {
			blocked = req
			return nil
		},
	}

	body := strings.NewReader(`{"address":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","network_id":"net-1","reason":"sanctioned"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/blacklist", body)
	rr := serveAuthed(t, handler, req, "admin-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if blocked.Reason != "sanctioned" || blocked.ActorUserID != "admin-1" {
		t.Fatalf("unexpected block request: %+v", blocked)
	}
	if blocked.NetworkID == nil || *blocked.NetworkID != "net-1" {
		t.Fatalf("expected network scope, got %+v", blocked.NetworkID)
	}
}

func TestAdminBlockAddressRejectsMalformed(t *testing.T) {
	handler := newTestHandler(stubDepositService{}, stubDepositReader{}, stubWebhookService{}, stubWalletService{}, stubAuditReader{})
	handler.compliance = stubComplianceService{
		blockFn: func(context.Context, services.BlockAddressRequest) error {
			return &apperr.ValidationFailed{Field: "address", Constraint: "must be a 0x-prefixed 40-hex address"}
		},
	}

	body := strings.NewReader(`{"address":"nope","reason":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/blacklist", body)
	rr := serveAuthed(t, handler, req, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
