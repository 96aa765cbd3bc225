package store

import (
	"context"
	"time"

	"onramp/internal/models"

	"github.com/shopspring/decimal"
)

// DepositStore owns the deposits table. Status mutations go through the
// compare-and-swap UpdateStatus so concurrent webhook and poller callbacks
// cannot overwrite each other.
type DepositStore struct {
	db DB
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

type DepositInput struct {
	ID               string
	PublicID         string
	UserID           string
	WalletID         string
	Status           string
	GatewaySessionID string
	AmountCents      int64
	FeeCents         int64
	TokenAmount      decimal.Decimal
	ExchangeRate     decimal.Decimal
	IdempotencyKey   *string
}

const depositColumns = `
	id, public_id, user_id, wallet_id, status, gateway_session_id, gateway_payment_intent_id,
	amount_cents, fee_cents, net_amount_cents, token_amount, exchange_rate, blockchain_tx_id,
	idempotency_key, failure_reason, manual_review, created_at, updated_at, completed_at
`

func (s *DepositStore) Create(ctx context.Context, tx Execer, input DepositInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (id, public_id, user_id, wallet_id, status, gateway_session_id, amount_cents, fee_cents, token_amount, exchange_rate, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, input.ID, input.PublicID, input.UserID, input.WalletID, input.Status, input.GatewaySessionID,
		input.AmountCents, input.FeeCents, input.TokenAmount, input.ExchangeRate, input.IdempotencyKey)
	return err
}

func (s *DepositStore) GetByID(ctx context.Context, depositID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, depositID)
	return deposit, translateNotFound(err)
}

func (s *DepositStore) GetByPublicID(ctx context.Context, publicID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE public_id = $1`, publicID)
	return deposit, translateNotFound(err)
}

func (s *DepositStore) GetByIdempotencyKey(ctx context.Context, key string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE idempotency_key = $1`, key)
	return deposit, translateNotFound(err)
}

func (s *DepositStore) GetBySessionID(ctx context.Context, sessionID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE gateway_session_id = $1`, sessionID)
	return deposit, translateNotFound(err)
}

func (s *DepositStore) GetByBlockchainTxID(ctx context.Context, blockchainTxID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE blockchain_tx_id = $1`, blockchainTxID)
	return deposit, translateNotFound(err)
}

func (s *DepositStore) GetByPaymentIntentID(ctx context.Context, intentID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `SELECT `+depositColumns+` FROM deposits WHERE gateway_payment_intent_id = $1`, intentID)
	return deposit, translateNotFound(err)
}

// UpdateStatus performs the conditional status swap. It returns the number of
// rows changed; zero means the stored status no longer matched expected.
func (s *DepositStore) UpdateStatus(ctx context.Context, tx Execer, depositID, expected, next string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE deposits SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, depositID, expected, next)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *DepositStore) SetPaymentIntent(ctx context.Context, tx Execer, depositID, intentID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits SET gateway_payment_intent_id = $2 WHERE id = $1
	`, depositID, intentID)
	return err
}

func (s *DepositStore) LinkBlockchainTx(ctx context.Context, tx Execer, depositID, blockchainTxID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits SET blockchain_tx_id = $2 WHERE id = $1
	`, depositID, blockchainTxID)
	return err
}

func (s *DepositStore) SetFailure(ctx context.Context, tx Execer, depositID, reason string, manualReview bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits SET failure_reason = $2, manual_review = $3 WHERE id = $1
	`, depositID, reason, manualReview)
	return err
}

func (s *DepositStore) SetCompletedAt(ctx context.Context, tx Execer, depositID string, completedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits SET completed_at = $2 WHERE id = $1
	`, depositID, completedAt)
	return err
}

// ListUnsubmitted returns PROCESSING deposits with no linked transaction whose
// last status change is older than cutoff. These are submissions abandoned by
// a crash or timeout; the cutoff keeps in-flight ones out of the sweep.
func (s *DepositStore) ListUnsubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Deposit, error) {
	deposits := []models.Deposit{}
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status = 'PROCESSING' AND blockchain_tx_id IS NULL AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, cutoff, limit)
	return deposits, err
}

func (s *DepositStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Deposit, error) {
	deposits := []models.Deposit{}
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return deposits, err
}
