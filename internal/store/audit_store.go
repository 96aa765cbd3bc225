package store

import (
	"context"
	"time"

	"onramp/internal/models"
)

// AuditStore is append-only; rows are never updated or deleted by the engine.
type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

type AuditEntry struct {
	Action         string
	EntityType     string
	EntityID       string
	OldValues      *string
	NewValues      *string
	Metadata       string
	ActorUserID    *string
	ActorSessionID *string
}

func (s *AuditStore) Record(ctx context.Context, tx Execer, entry AuditEntry) error {
	metadata := entry.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, actor_session_id, action, entity_type, entity_id, old_values, new_values, metadata)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ActorUserID, entry.ActorSessionID, entry.Action, entry.EntityType, entry.EntityID,
		entry.OldValues, entry.NewValues, metadata)
	return err
}

func (s *AuditStore) ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	logs := []models.AuditLog{}
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_user_id, actor_session_id, action, entity_type, entity_id, old_values, new_values, metadata, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	return logs, err
}

func (s *AuditStore) ListBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AuditLog, error) {
	logs := []models.AuditLog{}
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_user_id, actor_session_id, action, entity_type, entity_id, old_values, new_values, metadata, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, from, to, limit, offset)
	return logs, err
}
