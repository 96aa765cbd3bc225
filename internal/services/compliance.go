package services

import (
	"context"
	"log/slog"
	"time"

	"onramp/internal/apperr"
	"onramp/internal/db"
	"onramp/internal/models"
	"onramp/internal/store"
	"onramp/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BlacklistReader interface {
	FindActive(ctx context.Context, address, networkID string) (models.BlacklistedAddress, error)
}

type BlacklistWriter interface {
	Insert(ctx context.Context, tx store.Execer, input store.BlacklistInput) error
}

// Blacklist is the full store surface the screen needs.
type Blacklist interface {
	BlacklistReader
	BlacklistWriter
}

type WalletAddressReader interface {
	GetByAddress(ctx context.Context, address, networkID string) (models.Wallet, error)
}

// ComplianceScreen checks addresses against the blacklist before any funds
// move on-chain, and owns the operator-driven write path onto that list.
type ComplianceScreen struct {
	txRunner  db.TxRunner
	blacklist Blacklist
	wallets   WalletAddressReader
	audit     AuditStore
	logger    *slog.Logger
}

func NewComplianceScreen(txRunner db.TxRunner, blacklist Blacklist, wallets WalletAddressReader, audit AuditStore, logger *slog.Logger) *ComplianceScreen {
	return &ComplianceScreen{
		txRunner:  txRunner,
		blacklist: blacklist,
		wallets:   wallets,
		audit:     audit,
		logger:    logger,
	}
}

// IsBlocked reports whether an active blacklist entry matches the address,
// case-insensitively, on this network or globally.
func (c *ComplianceScreen) IsBlocked(ctx context.Context, address, networkID string) (bool, string, error) {
	entry, err := c.blacklist.FindActive(ctx, address, networkID)
	if err == store.ErrNotFound {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, entry.Reason, nil
}

type BlockAddressRequest struct {
	Address     string
	NetworkID   *string
	Reason      string
	ActorUserID string
	ExpiresAt   *time.Time
}

// Block adds an address to the blacklist with an audit trail. A custodial
// wallet holding the address is flagged in the audit metadata so operators
// see when they have blocked their own key material.
func (c *ComplianceScreen) Block(ctx context.Context, req BlockAddressRequest) error {
	if err := validator.ValidateAddress(req.Address); err != nil {
		return &apperr.ValidationFailed{Field: "address", Constraint: "must be a 0x-prefixed 40-hex address"}
	}
	if req.Reason == "" {
		return &apperr.ValidationFailed{Field: "reason", Constraint: "must not be empty"}
	}

	metadata := map[string]any{"actor_user_id": req.ActorUserID, "reason": req.Reason}
	if req.NetworkID != nil {
		wallet, err := c.wallets.GetByAddress(ctx, req.Address, *req.NetworkID)
		switch {
		case err == nil:
			metadata["custodial_wallet_id"] = wallet.PublicID
			c.logger.Warn("blacklist.custodial_address", "address", req.Address, "wallet_id", wallet.PublicID)
		case err != store.ErrNotFound:
			return internalErr(err)
		}
	}

	entryID := uuid.NewString()
	err := c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.blacklist.Insert(ctx, tx, store.BlacklistInput{
			ID:        entryID,
			Address:   req.Address,
			NetworkID: req.NetworkID,
			Reason:    req.Reason,
			ExpiresAt: req.ExpiresAt,
		}); err != nil {
			return err
		}
		return c.audit.Record(ctx, tx, store.AuditEntry{
			Action:      "blacklist.added",
			EntityType:  "blacklisted_address",
			EntityID:    entryID,
			Metadata:    metadataJSON(metadata),
			ActorUserID: &req.ActorUserID,
		})
	})
	if err != nil {
		return internalErr(err)
	}
	c.logger.Info("blacklist.added", "address", req.Address, "actor_user_id", req.ActorUserID)
	return nil
}
