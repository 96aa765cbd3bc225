package store

import (
	"context"

	"onramp/internal/models"
)

// UniquePrimaryWalletConstraint is the partial unique index allowing one
// primary, non-deleted wallet per (user, network).
const UniquePrimaryWalletConstraint = "uq_wallets_primary"

// UniqueWalletAddressConstraint allows one non-deleted wallet per
// (lower(address), network).
const UniqueWalletAddressConstraint = "uq_wallets_address_network"

type WalletStore struct {
	db DB
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

type WalletInput struct {
	ID                  string
	PublicID            string
	UserID              string
	NetworkID           string
	Address             string
	IsPrimary           bool
	WalletType          string
	ProviderName        *string
	EncryptedPrivateKey *string
}

const walletColumns = `
	id, public_id, user_id, network_id, address, label, is_primary, wallet_type,
	provider_name, encrypted_private_key, created_at, updated_at, deleted_at
`

func (s *WalletStore) Insert(ctx context.Context, tx Execer, input WalletInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, public_id, user_id, network_id, address, is_primary, wallet_type, provider_name, encrypted_private_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, input.ID, input.PublicID, input.UserID, input.NetworkID, input.Address, input.IsPrimary,
		input.WalletType, input.ProviderName, input.EncryptedPrivateKey)
	return err
}

func (s *WalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, `
		SELECT `+walletColumns+` FROM wallets WHERE id = $1 AND deleted_at IS NULL
	`, walletID)
	return wallet, translateNotFound(err)
}

func (s *WalletStore) GetPrimary(ctx context.Context, userID, networkID string) (models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND network_id = $2 AND is_primary = TRUE AND deleted_at IS NULL
	`, userID, networkID)
	return wallet, translateNotFound(err)
}

func (s *WalletStore) GetByAddress(ctx context.Context, address, networkID string) (models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE LOWER(address) = LOWER($1) AND network_id = $2 AND deleted_at IS NULL
	`, address, networkID)
	return wallet, translateNotFound(err)
}
