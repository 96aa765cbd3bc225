package services

import (
	"context"
	"log/slog"

	"onramp/internal/db"
	"onramp/internal/keyvault"
	"onramp/internal/models"
	"onramp/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const custodialProvider = "local-vault"

type WalletStore interface {
	GetByID(ctx context.Context, walletID string) (models.Wallet, error)
	GetPrimary(ctx context.Context, userID, networkID string) (models.Wallet, error)
	Insert(ctx context.Context, tx store.Execer, input store.WalletInput) error
}

// WalletService resolves the credit target for a deposit, creating a
// custodial wallet when the user has none on the network.
type WalletService struct {
	txRunner db.TxRunner
	wallets  WalletStore
	audit    AuditStore
	vault    keyvault.Vault
	logger   *slog.Logger
}

func NewWalletService(txRunner db.TxRunner, wallets WalletStore, audit AuditStore, vault keyvault.Vault, logger *slog.Logger) *WalletService {
	return &WalletService{
		txRunner: txRunner,
		wallets:  wallets,
		audit:    audit,
		vault:    vault,
		logger:   logger,
	}
}

// ResolvePrimary returns the user's primary wallet on the network, minting a
// custodial one when none exists. A lost creation race re-reads the winner.
func (s *WalletService) ResolvePrimary(ctx context.Context, userID, networkID string) (models.Wallet, error) {
	wallet, err := s.wallets.GetPrimary(ctx, userID, networkID)
	if err == nil {
		return wallet, nil
	}
	if err != store.ErrNotFound {
		return models.Wallet{}, err
	}

	key, err := s.vault.GenerateWalletKey()
	if err != nil {
		return models.Wallet{}, err
	}
	walletID := uuid.NewString()
	provider := custodialProvider
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.wallets.Insert(ctx, tx, store.WalletInput{
			ID:                  walletID,
			PublicID:            uuid.NewString(),
			UserID:              userID,
			NetworkID:           networkID,
			Address:             key.Address,
			IsPrimary:           true,
			WalletType:          models.WalletTypeCustodial,
			ProviderName:        &provider,
			EncryptedPrivateKey: &key.EncryptedKey,
		}); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, store.AuditEntry{
			Action:      "wallet.created",
			EntityType:  "wallet",
			EntityID:    walletID,
			Metadata:    metadataJSON(map[string]any{"wallet_type": models.WalletTypeCustodial, "network_id": networkID}),
			ActorUserID: &userID,
		})
	})
	if err != nil {
		if store.IsUniqueViolation(err, store.UniquePrimaryWalletConstraint) {
			return s.wallets.GetPrimary(ctx, userID, networkID)
		}
		return models.Wallet{}, err
	}

	s.logger.Info("wallet.created", "wallet_id", walletID, "user_id", userID, "network_id", networkID)
	return s.wallets.GetByID(ctx, walletID)
}
