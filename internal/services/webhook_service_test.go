package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"onramp/internal/apperr"
	"onramp/internal/gateway"
	"onramp/internal/models"
	"onramp/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const webhookMaxRetries = 5

func newWebhookService(events stubEventStore, deposits stubDepositStore, ledger stubLedger, submitMint func(string)) *WebhookService {
	return NewWebhookService(fakeTxRunner{}, events, deposits, ledger, submitMint, webhookMaxRetries, testLogger())
}

func TestIngestReplayedEventAcked(t *testing.T) {
	processedAt := time.Now()
	service := newWebhookService(stubEventStore{
		getByGatewayFn: func(context.Context, string) (models.WebhookEvent, error) {
			return models.WebhookEvent{ID: "evt-row", ProcessedAt: &processedAt}, nil
		},
	}, stubDepositStore{}, stubLedger{
		transitionFn: func(context.Context, string, string, string, string, map[string]any, func(*sqlx.Tx) error) (models.Deposit, error) {
			t.Fatalf("unexpected transition for replayed event")
			return models.Deposit{}, nil
		},
	}, nil)
	if err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutCompleted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIngestCompletedEventTransitions(t *testing.T) {
	var inserted store.WebhookEventInput
	intentSet := false
	markedProcessed := false
	mintSubmitted := ""
	service := newWebhookService(stubEventStore{
		insertFn: func(_ context.Context, input store.WebhookEventInput) error {
			inserted = input
			return nil
		},
		markProcessedFn: func(context.Context, store.Execer, string, time.Time) error {
			markedProcessed = true
			return nil
		},
	}, stubDepositStore{
		getBySessionFn: func(_ context.Context, sessionID string) (models.Deposit, error) {
			if sessionID != "cs-1" {
				t.Fatalf("unexpected session lookup: %s", sessionID)
			}
			return models.Deposit{ID: "dep-1", Status: models.StatusPending}, nil
		},
		setPaymentIntentFn: func(_ context.Context, _ store.Execer, depositID, intentID string) error {
			if depositID != "dep-1" || intentID != "pi-1" {
				t.Fatalf("unexpected payment intent: %s %s", depositID, intentID)
			}
			intentSet = true
			return nil
		},
	}, stubLedger{
		transitionFn: func(_ context.Context, depositID, expected, next, trigger string, _ map[string]any, linked func(*sqlx.Tx) error) (models.Deposit, error) {
			if depositID != "dep-1" || expected != models.StatusPending || next != models.StatusProcessing {
				t.Fatalf("unexpected transition: %s %s -> %s", depositID, expected, next)
			}
			if trigger != TriggerWebhook {
				t.Fatalf("unexpected trigger: %s", trigger)
			}
			if err := linked(nil); err != nil {
				return models.Deposit{}, err
			}
			return models.Deposit{ID: depositID, Status: next}, nil
		},
	}, func(depositID string) {
		mintSubmitted = depositID
	})

	err := service.Ingest(context.Background(), gateway.Event{
		ID: "evt-1", Type: gateway.EventCheckoutCompleted, SessionID: "cs-1", PaymentIntentID: "pi-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted.GatewayEventID != "evt-1" {
		t.Fatalf("expected event row insert, got %#v", inserted)
	}
	if !intentSet || !markedProcessed {
		t.Fatalf("expected payment intent and processed mark inside the transition")
	}
	if mintSubmitted != "dep-1" {
		t.Fatalf("expected mint submission for dep-1, got %q", mintSubmitted)
	}
}

func TestIngestExpiredSessionFailsDeposit(t *testing.T) {
	var failedReason string
	service := newWebhookService(stubEventStore{}, stubDepositStore{
		getBySessionFn: func(context.Context, string) (models.Deposit, error) {
			return models.Deposit{ID: "dep-1", Status: models.StatusPending}, nil
		},
	}, stubLedger{
		markFailedFn: func(_ context.Context, depositID, expected, reason, _ string, manualReview bool, linked func(*sqlx.Tx) error) (models.Deposit, error) {
			if depositID != "dep-1" || expected != models.StatusPending || manualReview {
				t.Fatalf("unexpected failure: %s from %s review=%v", depositID, expected, manualReview)
			}
			failedReason = reason
			if err := linked(nil); err != nil {
				return models.Deposit{}, err
			}
			return models.Deposit{ID: depositID, Status: models.StatusFailed}, nil
		},
	}, nil)

	err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutExpired, SessionID: "cs-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failedReason != models.ReasonGatewayDeclined {
		t.Fatalf("unexpected reason: %s", failedReason)
	}
}

func TestIngestUnknownTypeAcked(t *testing.T) {
	marked := false
	service := newWebhookService(stubEventStore{
		markProcessedFn: func(context.Context, store.Execer, string, time.Time) error {
			marked = true
			return nil
		},
	}, stubDepositStore{
		getBySessionFn: func(context.Context, string) (models.Deposit, error) {
			return models.Deposit{ID: "dep-1"}, nil
		},
	}, stubLedger{
		transitionFn: func(context.Context, string, string, string, string, map[string]any, func(*sqlx.Tx) error) (models.Deposit, error) {
			t.Fatalf("unexpected transition for unhandled event type")
			return models.Deposit{}, nil
		},
	}, nil)
	if err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: "charge.updated", SessionID: "cs-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !marked {
		t.Fatalf("expected event marked processed")
	}
}

func TestIngestRetryBudgetExhausted(t *testing.T) {
	var recordedError string
	service := newWebhookService(stubEventStore{
		getByGatewayFn: func(context.Context, string) (models.WebhookEvent, error) {
			return models.WebhookEvent{ID: "evt-row", RetryCount: webhookMaxRetries}, nil
		},
		incrementRetryFn: func(context.Context, string) (int, error) {
			return webhookMaxRetries + 1, nil
		},
		setErrorFn: func(_ context.Context, _ string, message string) error {
			recordedError = message
			return nil
		},
	}, stubDepositStore{}, stubLedger{
		transitionFn: func(context.Context, string, string, string, string, map[string]any, func(*sqlx.Tx) error) (models.Deposit, error) {
			t.Fatalf("unexpected transition after exhausted retries")
			return models.Deposit{}, nil
		},
	}, nil)
	if err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutCompleted}); err != nil {
		t.Fatalf("expected ack after exhausted retries, got %v", err)
	}
	if recordedError != ManualReviewMarker {
		t.Fatalf("expected manual review marker, got %q", recordedError)
	}
}

func TestIngestStaleTransitionAcked(t *testing.T) {
	marked := false
	service := newWebhookService(stubEventStore{
		markProcessedFn: func(context.Context, store.Execer, string, time.Time) error {
			marked = true
			return nil
		},
	}, stubDepositStore{
		getBySessionFn: func(context.Context, string) (models.Deposit, error) {
			return models.Deposit{ID: "dep-1", Status: models.StatusProcessing}, nil
		},
	}, stubLedger{
		transitionFn: func(context.Context, string, string, string, string, map[string]any, func(*sqlx.Tx) error) (models.Deposit, error) {
			return models.Deposit{}, &apperr.StaleTransition{DepositID: "dep-1", Expected: models.StatusPending, Next: models.StatusProcessing}
		},
	}, nil)
	if err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutCompleted, SessionID: "cs-1"}); err != nil {
		t.Fatalf("expected stale transition to ack, got %v", err)
	}
	if !marked {
		t.Fatalf("expected event marked processed despite stale transition")
	}
}

func TestIngestInsertRaceAcked(t *testing.T) {
	service := newWebhookService(stubEventStore{
		insertFn: func(context.Context, store.WebhookEventInput) error {
			return &pq.Error{Code: "23505", Constraint: store.UniqueGatewayEventConstraint}
		},
	}, stubDepositStore{}, stubLedger{
		transitionFn: func(context.Context, string, string, string, string, map[string]any, func(*sqlx.Tx) error) (models.Deposit, error) {
			t.Fatalf("unexpected transition after losing insert race")
			return models.Deposit{}, nil
		},
	}, nil)
	if err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutCompleted}); err != nil {
		t.Fatalf("expected ack after losing insert race, got %v", err)
	}
}

func TestIngestUnmatchedEventRetries(t *testing.T) {
	var recordedError string
	service := newWebhookService(stubEventStore{
		setErrorFn: func(_ context.Context, _ string, message string) error {
			recordedError = message
			return nil
		},
	}, stubDepositStore{}, stubLedger{}, nil)
	err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventCheckoutCompleted, SessionID: "cs-unknown"})
	var retry *apperr.RetryLater
	if !errors.As(err, &retry) {
		t.Fatalf("expected retry later, got %v", err)
	}
	if recordedError == "" {
		t.Fatalf("expected processing error recorded")
	}
}

func TestIngestResolvesByPaymentIntent(t *testing.T) {
	service := newWebhookService(stubEventStore{}, stubDepositStore{
		getByPaymentIntentFn: func(_ context.Context, intentID string) (models.Deposit, error) {
			if intentID != "pi-1" {
				t.Fatalf("unexpected intent lookup: %s", intentID)
			}
			return models.Deposit{ID: "dep-1", Status: models.StatusPending}, nil
		},
	}, stubLedger{}, nil)
	err := service.Ingest(context.Background(), gateway.Event{ID: "evt-1", Type: gateway.EventPaymentFailed, PaymentIntentID: "pi-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
