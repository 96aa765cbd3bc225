package store

import (
	"context"

	"onramp/internal/models"
)

type NetworkStore struct {
	db DB
}

func NewNetworkStore(db DB) *NetworkStore {
	return &NetworkStore{db: db}
}

const networkColumns = `id, name, chain_id, rpc_url, contract_address, minter_address, is_testnet, is_active, created_at`

func (s *NetworkStore) GetByID(ctx context.Context, networkID string) (models.Network, error) {
	var network models.Network
	err := s.db.GetContext(ctx, &network, `SELECT `+networkColumns+` FROM networks WHERE id = $1`, networkID)
	return network, translateNotFound(err)
}

func (s *NetworkStore) ListActive(ctx context.Context) ([]models.Network, error) {
	networks := []models.Network{}
	err := s.db.SelectContext(ctx, &networks, `
		SELECT `+networkColumns+` FROM networks WHERE is_active = TRUE ORDER BY name
	`)
	return networks, err
}
