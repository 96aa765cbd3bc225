package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"onramp/internal/apperr"
	"onramp/internal/db"
	"onramp/internal/gateway"
	"onramp/internal/models"
	"onramp/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ManualReviewMarker is stored as the processing error once an event exhausts
// its retry budget, so operators can find it.
const ManualReviewMarker = "MANUAL_REVIEW_REQUIRED"

type WebhookEventStore interface {
	Insert(ctx context.Context, input store.WebhookEventInput) error
	GetByGatewayEventID(ctx context.Context, gatewayEventID string) (models.WebhookEvent, error)
	IncrementRetry(ctx context.Context, eventID string) (int, error)
	MarkProcessed(ctx context.Context, tx store.Execer, eventID string, processedAt time.Time) error
	SetError(ctx context.Context, eventID, message string) error
}

type DepositResolver interface {
	GetBySessionID(ctx context.Context, sessionID string) (models.Deposit, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (models.Deposit, error)
	SetPaymentIntent(ctx context.Context, tx store.Execer, depositID, intentID string) error
}

// DepositLedger is the slice of the deposit service the guard and tracker
// drive transitions through.
type DepositLedger interface {
	Transition(ctx context.Context, depositID, expected, next, trigger string, metadata map[string]any, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
	MarkCompleted(ctx context.Context, depositID, trigger string, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
	MarkFailed(ctx context.Context, depositID, expected, reason, trigger string, manualReview bool, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
}

// WebhookService is the ingestion guard: it deduplicates gateway deliveries
// and turns them into ledger transitions exactly once.
type WebhookService struct {
	txRunner   db.TxRunner
	events     WebhookEventStore
	deposits   DepositResolver
	ledger     DepositLedger
	submitMint func(depositID string)
	maxRetries int
	logger     *slog.Logger
}

func NewWebhookService(txRunner db.TxRunner, events WebhookEventStore, deposits DepositResolver, ledger DepositLedger, submitMint func(depositID string), maxRetries int, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		txRunner:   txRunner,
		events:     events,
		deposits:   deposits,
		ledger:     ledger,
		submitMint: submitMint,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Ingest processes one verified gateway event. A nil return acks the delivery;
// apperr.RetryLater asks the caller to rely on gateway redelivery.
func (s *WebhookService) Ingest(ctx context.Context, event gateway.Event) error {
	row, err := s.events.GetByGatewayEventID(ctx, event.ID)
	switch {
	case err == nil:
		if row.ProcessedAt != nil {
			s.logger.Info("webhook.replayed", "gateway_event_id", event.ID)
			return nil
		}
		retries, err := s.events.IncrementRetry(ctx, row.ID)
		if err != nil {
			return &apperr.RetryLater{Cause: err}
		}
		if retries > s.maxRetries {
			if err := s.events.SetError(ctx, row.ID, ManualReviewMarker); err != nil {
				return &apperr.RetryLater{Cause: err}
			}
			s.logger.Error("webhook.retries_exhausted", "gateway_event_id", event.ID, "retries", retries)
			return nil
		}
	case err == store.ErrNotFound:
		row = models.WebhookEvent{ID: uuid.NewString(), GatewayEventID: event.ID, EventType: event.Type}
		if err := s.events.Insert(ctx, store.WebhookEventInput{
			ID:             row.ID,
			GatewayEventID: event.ID,
			EventType:      event.Type,
			Payload:        event.Raw,
		}); err != nil {
			if store.IsUniqueViolation(err, store.UniqueGatewayEventConstraint) {
				// Concurrent first delivery won the insert; let redelivery
				// find its row.
				return nil
			}
			return &apperr.RetryLater{Cause: err}
		}
	default:
		return &apperr.RetryLater{Cause: err}
	}

	if err := s.apply(ctx, row.ID, event); err != nil {
		var stale *apperr.StaleTransition
		if errors.As(err, &stale) {
			// Out-of-order or already-applied delivery: record it processed
			// without touching the deposit again.
			s.logger.Info("webhook.stale_transition", "gateway_event_id", event.ID, "deposit_id", stale.DepositID)
			return s.finishWithoutTransition(ctx, row.ID)
		}
		message := err.Error()
		if setErr := s.events.SetError(ctx, row.ID, message); setErr != nil {
			s.logger.Error("webhook.error_not_recorded", "gateway_event_id", event.ID, "error", setErr)
		}
		return &apperr.RetryLater{Cause: err}
	}
	return nil
}

func (s *WebhookService) apply(ctx context.Context, eventRowID string, event gateway.Event) error {
	deposit, err := s.resolveDeposit(ctx, event)
	if err != nil {
		return err
	}

	switch event.Type {
	case gateway.EventCheckoutCompleted:
		_, err := s.ledger.Transition(ctx, deposit.ID, models.StatusPending, models.StatusProcessing, TriggerWebhook,
			map[string]any{"gateway_event_id": event.ID},
			func(tx *sqlx.Tx) error {
				if event.PaymentIntentID != "" {
					if err := s.deposits.SetPaymentIntent(ctx, tx, deposit.ID, event.PaymentIntentID); err != nil {
						return err
					}
				}
				return s.events.MarkProcessed(ctx, tx, eventRowID, time.Now().UTC())
			})
		if err != nil {
			return err
		}
		s.logger.Info("deposit.gateway.success", "deposit_id", deposit.PublicID, "gateway_event_id", event.ID)
		if s.submitMint != nil {
			s.submitMint(deposit.ID)
		}
		return nil

	case gateway.EventCheckoutExpired, gateway.EventPaymentFailed:
		_, err := s.ledger.MarkFailed(ctx, deposit.ID, models.StatusPending, models.ReasonGatewayDeclined, TriggerWebhook, false,
			func(tx *sqlx.Tx) error {
				return s.events.MarkProcessed(ctx, tx, eventRowID, time.Now().UTC())
			})
		if err != nil {
			return err
		}
		s.logger.Info("deposit.gateway.declined", "deposit_id", deposit.PublicID, "gateway_event_id", event.ID, "decline_code", event.DeclineCode)
		return nil

	default:
		// Event types outside the deposit lifecycle are acknowledged without
		// effect.
		return s.finishWithoutTransition(ctx, eventRowID)
	}
}

func (s *WebhookService) resolveDeposit(ctx context.Context, event gateway.Event) (models.Deposit, error) {
	if event.SessionID != "" {
		deposit, err := s.deposits.GetBySessionID(ctx, event.SessionID)
		if err == nil {
			return deposit, nil
		}
		if err != store.ErrNotFound {
			return models.Deposit{}, err
		}
	}
	if event.PaymentIntentID != "" {
		deposit, err := s.deposits.GetByPaymentIntentID(ctx, event.PaymentIntentID)
		if err == nil {
			return deposit, nil
		}
		if err != store.ErrNotFound {
			return models.Deposit{}, err
		}
	}
	return models.Deposit{}, errors.New("no deposit matches webhook event " + event.ID)
}

func (s *WebhookService) finishWithoutTransition(ctx context.Context, eventRowID string) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.events.MarkProcessed(ctx, tx, eventRowID, time.Now().UTC())
	})
	if err != nil {
		return &apperr.RetryLater{Cause: err}
	}
	return nil
}
