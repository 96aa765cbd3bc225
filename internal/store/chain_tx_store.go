package store

import (
	"context"
	"time"

	"onramp/internal/models"

	"github.com/shopspring/decimal"
)

// UniqueNonceConstraint is the partial unique index guarding one unconfirmed
// transaction per (network, from address, nonce).
const UniqueNonceConstraint = "uq_chain_tx_nonce_unconfirmed"

// UniqueTxHashConstraint guards one transaction hash per network.
const UniqueTxHashConstraint = "uq_chain_tx_hash_network"

type ChainTxStore struct {
	db DB
}

func NewChainTxStore(db DB) *ChainTxStore {
	return &ChainTxStore{db: db}
}

type ChainTxInput struct {
	ID                    string
	PublicID              string
	DepositID             string
	NetworkID             string
	TxType                string
	FromAddress           string
	ToAddress             string
	Amount                decimal.Decimal
	Nonce                 int64
	RequiredConfirmations int
}

const chainTxColumns = `
	id, public_id, deposit_id, network_id, tx_type, from_address, to_address, tx_hash, block_number, block_hash,
	amount, nonce, is_confirmed, confirmations, required_confirmations, poll_attempts, created_at, confirmed_at
`

// Insert reserves a nonce by writing the row before submission; the tx hash is
// recorded afterwards by SetTxHash. A conflicting reservation surfaces as a
// unique violation on UniqueNonceConstraint.
func (s *ChainTxStore) Insert(ctx context.Context, tx Execer, input ChainTxInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blockchain_transactions (id, public_id, deposit_id, network_id, tx_type, from_address, to_address, amount, nonce, required_confirmations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, input.ID, input.PublicID, input.DepositID, input.NetworkID, input.TxType, input.FromAddress,
		input.ToAddress, input.Amount, input.Nonce, input.RequiredConfirmations)
	return err
}

// SetTxHash records the hash returned by the node. A row that already has a
// hash is never overwritten, so a submission is never repeated for it.
func (s *ChainTxStore) SetTxHash(ctx context.Context, txID, txHash string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE blockchain_transactions SET tx_hash = $2 WHERE id = $1 AND tx_hash IS NULL
	`, txID, txHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteUnsubmitted removes a reservation that never reached the chain. Rows
// with a recorded hash are left alone.
func (s *ChainTxStore) DeleteUnsubmitted(ctx context.Context, txID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blockchain_transactions WHERE id = $1 AND tx_hash IS NULL
	`, txID)
	return err
}

func (s *ChainTxStore) GetByID(ctx context.Context, txID string) (models.BlockchainTransaction, error) {
	var row models.BlockchainTransaction
	err := s.db.GetContext(ctx, &row, `SELECT `+chainTxColumns+` FROM blockchain_transactions WHERE id = $1`, txID)
	return row, translateNotFound(err)
}

// ListByDeposit returns every transaction reserved for the deposit, newest
// first. Used by the recovery sweep to find orphaned reservations.
func (s *ChainTxStore) ListByDeposit(ctx context.Context, depositID string) ([]models.BlockchainTransaction, error) {
	rows := []models.BlockchainTransaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+chainTxColumns+`
		FROM blockchain_transactions
		WHERE deposit_id = $1
		ORDER BY created_at DESC
	`, depositID)
	return rows, err
}

// NextLocalNonce returns one past the highest nonce this service has recorded
// for unconfirmed transactions from the address, or zero when none exist.
func (s *ChainTxStore) NextLocalNonce(ctx context.Context, networkID, fromAddress string) (int64, error) {
	var next int64
	err := s.db.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(nonce) + 1, 0)
		FROM blockchain_transactions
		WHERE network_id = $1 AND LOWER(from_address) = LOWER($2) AND is_confirmed = FALSE
	`, networkID, fromAddress)
	return next, err
}

// ListPollable returns submitted, unconfirmed transactions that still have
// polling budget left. Reservations without a hash and rows past their budget
// are excluded.
func (s *ChainTxStore) ListPollable(ctx context.Context, maxAttempts, limit int) ([]models.BlockchainTransaction, error) {
	rows := []models.BlockchainTransaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+chainTxColumns+`
		FROM blockchain_transactions
		WHERE is_confirmed = FALSE AND tx_hash IS NOT NULL AND poll_attempts < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, maxAttempts, limit)
	return rows, err
}

// UpdateConfirmations raises the confirmation count and block info. Decreases
// and writes to confirmed rows are rejected by the WHERE clause, keeping the
// count monotonic.
func (s *ChainTxStore) UpdateConfirmations(ctx context.Context, tx Execer, txID string, confirmations int, blockNumber *int64, blockHash *string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE blockchain_transactions
		SET confirmations = $2,
		    block_number = COALESCE($3, block_number),
		    block_hash = COALESCE($4, block_hash)
		WHERE id = $1 AND is_confirmed = FALSE AND confirmations <= $2
	`, txID, confirmations, blockNumber, blockHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *ChainTxStore) MarkConfirmed(ctx context.Context, tx Execer, txID string, confirmedAt time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE blockchain_transactions
		SET is_confirmed = TRUE, confirmed_at = $2
		WHERE id = $1 AND is_confirmed = FALSE
	`, txID, confirmedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IncrementPollAttempts bumps the per-row polling budget counter and returns
// the new value.
func (s *ChainTxStore) IncrementPollAttempts(ctx context.Context, txID string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts, `
		UPDATE blockchain_transactions
		SET poll_attempts = poll_attempts + 1
		WHERE id = $1
		RETURNING poll_attempts
	`, txID)
	return attempts, translateNotFound(err)
}
