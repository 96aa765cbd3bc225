package store

import (
	"context"
	"time"

	"onramp/internal/models"
)

// UniqueGatewayEventConstraint deduplicates inbound events by the gateway's
// own event id.
const UniqueGatewayEventConstraint = "uq_webhook_gateway_event"

type WebhookStore struct {
	db DB
}

func NewWebhookStore(db DB) *WebhookStore {
	return &WebhookStore{db: db}
}

type WebhookEventInput struct {
	ID             string
	GatewayEventID string
	EventType      string
	Payload        []byte
}

const webhookColumns = `id, gateway_event_id, event_type, payload, processed_at, processing_error, retry_count, created_at`

func (s *WebhookStore) Insert(ctx context.Context, input WebhookEventInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, gateway_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, input.ID, input.GatewayEventID, input.EventType, input.Payload)
	return err
}

func (s *WebhookStore) GetByGatewayEventID(ctx context.Context, gatewayEventID string) (models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event, `
		SELECT `+webhookColumns+` FROM webhook_events WHERE gateway_event_id = $1
	`, gatewayEventID)
	return event, translateNotFound(err)
}

func (s *WebhookStore) IncrementRetry(ctx context.Context, eventID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE webhook_events SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count
	`, eventID)
	return count, translateNotFound(err)
}

// MarkProcessed stamps processed_at inside the same transaction that applied
// the deposit transition, so an ack is never recorded ahead of its effect.
func (s *WebhookStore) MarkProcessed(ctx context.Context, tx Execer, eventID string, processedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = $2, processing_error = NULL WHERE id = $1
	`, eventID, processedAt)
	return err
}

func (s *WebhookStore) SetError(ctx context.Context, eventID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET processing_error = $2 WHERE id = $1
	`, eventID, message)
	return err
}

func (s *WebhookStore) ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	events := []models.WebhookEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+webhookColumns+`
		FROM webhook_events
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	return events, err
}
