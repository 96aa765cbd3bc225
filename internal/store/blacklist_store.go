package store

import (
	"context"
	"time"

	"onramp/internal/models"
)

type BlacklistStore struct {
	db DB
}

func NewBlacklistStore(db DB) *BlacklistStore {
	return &BlacklistStore{db: db}
}

type BlacklistInput struct {
	ID        string
	Address   string
	NetworkID *string
	Reason    string
	Source    *string
	ExpiresAt *time.Time
}

// FindActive returns the matching non-expired entry for the address, checking
// both network-scoped and global (null network) entries. ErrNotFound means
// the address is clear.
func (s *BlacklistStore) FindActive(ctx context.Context, address, networkID string) (models.BlacklistedAddress, error) {
	var entry models.BlacklistedAddress
	err := s.db.GetContext(ctx, &entry, `
		SELECT id, address, network_id, reason, source, created_at, expires_at
		FROM blacklisted_addresses
		WHERE LOWER(address) = LOWER($1)
		  AND (network_id = $2 OR network_id IS NULL)
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY network_id NULLS LAST
		LIMIT 1
	`, address, networkID)
	return entry, translateNotFound(err)
}

func (s *BlacklistStore) Insert(ctx context.Context, tx Execer, input BlacklistInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blacklisted_addresses (id, address, network_id, reason, source, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, input.ID, input.Address, input.NetworkID, input.Reason, input.Source, input.ExpiresAt)
	return err
}
