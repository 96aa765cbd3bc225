package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"onramp/internal/chain"
	"onramp/internal/gateway"
	"onramp/internal/keyvault"
	"onramp/internal/models"
	"onramp/internal/store"
	"onramp/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const testTxHash = "0x4e07408562bedb8b60ce05c1decfe3ad16b72230967de01f640b7e4729b49fce"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stringPtr(s string) *string {
	return &s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubDepositStore struct {
	createFn             func(ctx context.Context, tx store.Execer, input store.DepositInput) error
	getByIDFn            func(ctx context.Context, depositID string) (models.Deposit, error)
	getByIdempotencyFn   func(ctx context.Context, key string) (models.Deposit, error)
	getBySessionFn       func(ctx context.Context, sessionID string) (models.Deposit, error)
	getByPaymentIntentFn func(ctx context.Context, intentID string) (models.Deposit, error)
	getByChainTxFn       func(ctx context.Context, blockchainTxID string) (models.Deposit, error)
	updateStatusFn       func(ctx context.Context, tx store.Execer, depositID, expected, next string) (int64, error)
	setPaymentIntentFn   func(ctx context.Context, tx store.Execer, depositID, intentID string) error
	linkChainTxFn        func(ctx context.Context, tx store.Execer, depositID, blockchainTxID string) error
	setFailureFn         func(ctx context.Context, tx store.Execer, depositID, reason string, manualReview bool) error
	setCompletedAtFn     func(ctx context.Context, tx store.Execer, depositID string, completedAt time.Time) error
	listUnsubmittedFn    func(ctx context.Context, cutoff time.Time, limit int) ([]models.Deposit, error)
}

func (s stubDepositStore) Create(ctx context.Context, tx store.Execer, input store.DepositInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubDepositStore) GetByID(ctx context.Context, depositID string) (models.Deposit, error) {
	if s.getByIDFn == nil {
		return models.Deposit{ID: depositID}, nil
	}
	return s.getByIDFn(ctx, depositID)
}

func (s stubDepositStore) GetByIdempotencyKey(ctx context.Context, key string) (models.Deposit, error) {
	if s.getByIdempotencyFn == nil {
		return models.Deposit{}, store.ErrNotFound
	}
	return s.getByIdempotencyFn(ctx, key)
}

func (s stubDepositStore) GetBySessionID(ctx context.Context, sessionID string) (models.Deposit, error) {
	if s.getBySessionFn == nil {
		return models.Deposit{}, store.ErrNotFound
	}
	return s.getBySessionFn(ctx, sessionID)
}

func (s stubDepositStore) GetByPaymentIntentID(ctx context.Context, intentID string) (models.Deposit, error) {
	if s.getByPaymentIntentFn == nil {
		return models.Deposit{}, store.ErrNotFound
	}
	return s.getByPaymentIntentFn(ctx, intentID)
}

func (s stubDepositStore) GetByBlockchainTxID(ctx context.Context, blockchainTxID string) (models.Deposit, error) {
	if s.getByChainTxFn == nil {
		return models.Deposit{}, store.ErrNotFound
	}
	return s.getByChainTxFn(ctx, blockchainTxID)
}

func (s stubDepositStore) UpdateStatus(ctx context.Context, tx store.Execer, depositID, expected, next string) (int64, error) {
	if s.updateStatusFn == nil {
		return 1, nil
	}
	return s.updateStatusFn(ctx, tx, depositID, expected, next)
}

func (s stubDepositStore) SetPaymentIntent(ctx context.Context, tx store.Execer, depositID, intentID string) error {
	if s.setPaymentIntentFn == nil {
		return nil
	}
	return s.setPaymentIntentFn(ctx, tx, depositID, intentID)
}

func (s stubDepositStore) LinkBlockchainTx(ctx context.Context, tx store.Execer, depositID, blockchainTxID string) error {
	if s.linkChainTxFn == nil {
		return nil
	}
	return s.linkChainTxFn(ctx, tx, depositID, blockchainTxID)
}

func (s stubDepositStore) SetFailure(ctx context.Context, tx store.Execer, depositID, reason string, manualReview bool) error {
	if s.setFailureFn == nil {
		return nil
	}
	return s.setFailureFn(ctx, tx, depositID, reason, manualReview)
}

func (s stubDepositStore) SetCompletedAt(ctx context.Context, tx store.Execer, depositID string, completedAt time.Time) error {
	if s.setCompletedAtFn == nil {
		return nil
	}
	return s.setCompletedAtFn(ctx, tx, depositID, completedAt)
}

func (s stubDepositStore) ListUnsubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Deposit, error) {
	if s.listUnsubmittedFn == nil {
		return nil, nil
	}
	return s.listUnsubmittedFn(ctx, cutoff, limit)
}

type stubWalletStore struct {
	getByIDFn      func(ctx context.Context, walletID string) (models.Wallet, error)
	getByAddressFn func(ctx context.Context, address, networkID string) (models.Wallet, error)
	getPrimaryFn   func(ctx context.Context, userID, networkID string) (models.Wallet, error)
	insertFn       func(ctx context.Context, tx store.Execer, input store.WalletInput) error
}

func (s stubWalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	if s.getByIDFn == nil {
		return models.Wallet{ID: walletID}, nil
	}
	return s.getByIDFn(ctx, walletID)
}

func (s stubWalletStore) GetByAddress(ctx context.Context, address, networkID string) (models.Wallet, error) {
	if s.getByAddressFn == nil {
		return models.Wallet{}, store.ErrNotFound
	}
	return s.getByAddressFn(ctx, address, networkID)
}

func (s stubWalletStore) GetPrimary(ctx context.Context, userID, networkID string) (models.Wallet, error) {
	if s.getPrimaryFn == nil {
		return models.Wallet{}, store.ErrNotFound
	}
	return s.getPrimaryFn(ctx, userID, networkID)
}

func (s stubWalletStore) Insert(ctx context.Context, tx store.Execer, input store.WalletInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, input)
}

type stubAuditStore struct {
	entries []store.AuditEntry
}

func (s *stubAuditStore) Record(_ context.Context, _ store.Execer, entry store.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type stubHub struct {
	calls []websocket.DepositUpdate
}

func (s *stubHub) BroadcastDeposit(_ string, update websocket.DepositUpdate) {
	s.calls = append(s.calls, update)
}

type stubCheckout struct {
	createFn func(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutSession, error)
}

func (s stubCheckout) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutSession, error) {
	if s.createFn == nil {
		return gateway.CheckoutSession{ID: "cs_test", URL: "https://gateway.test/cs_test"}, nil
	}
	return s.createFn(ctx, req)
}

type stubEventStore struct {
	insertFn         func(ctx context.Context, input store.WebhookEventInput) error
	getByGatewayFn   func(ctx context.Context, gatewayEventID string) (models.WebhookEvent, error)
	incrementRetryFn func(ctx context.Context, eventID string) (int, error)
	markProcessedFn  func(ctx context.Context, tx store.Execer, eventID string, processedAt time.Time) error
	setErrorFn       func(ctx context.Context, eventID, message string) error
}

func (s stubEventStore) Insert(ctx context.Context, input store.WebhookEventInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, input)
}

func (s stubEventStore) GetByGatewayEventID(ctx context.Context, gatewayEventID string) (models.WebhookEvent, error) {
	if s.getByGatewayFn == nil {
		return models.WebhookEvent{}, store.ErrNotFound
	}
	return s.getByGatewayFn(ctx, gatewayEventID)
}

func (s stubEventStore) IncrementRetry(ctx context.Context, eventID string) (int, error) {
	if s.incrementRetryFn == nil {
		return 1, nil
	}
	return s.incrementRetryFn(ctx, eventID)
}

func (s stubEventStore) MarkProcessed(ctx context.Context, tx store.Execer, eventID string, processedAt time.Time) error {
	if s.markProcessedFn == nil {
		return nil
	}
	return s.markProcessedFn(ctx, tx, eventID, processedAt)
}

func (s stubEventStore) SetError(ctx context.Context, eventID, message string) error {
	if s.setErrorFn == nil {
		return nil
	}
	return s.setErrorFn(ctx, eventID, message)
}

// stubLedger records transitions and runs linked callbacks the way the real
// service does, so callers can assert on what committed with the transition.
type stubLedger struct {
	transitionFn    func(ctx context.Context, depositID, expected, next, trigger string, metadata map[string]any, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
	markCompletedFn func(ctx context.Context, depositID, trigger string, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
	markFailedFn    func(ctx context.Context, depositID, expected, reason, trigger string, manualReview bool, linked func(tx *sqlx.Tx) error) (models.Deposit, error)
}

func (s stubLedger) Transition(ctx context.Context, depositID, expected, next, trigger string, metadata map[string]any, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	if s.transitionFn == nil {
		if linked != nil {
			if err := linked(nil); err != nil {
				return models.Deposit{}, err
			}
		}
		return models.Deposit{ID: depositID, Status: next}, nil
	}
	return s.transitionFn(ctx, depositID, expected, next, trigger, metadata, linked)
}

func (s stubLedger) MarkCompleted(ctx context.Context, depositID, trigger string, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	if s.markCompletedFn == nil {
		if linked != nil {
			if err := linked(nil); err != nil {
				return models.Deposit{}, err
			}
		}
		return models.Deposit{ID: depositID, Status: models.StatusCompleted}, nil
	}
	return s.markCompletedFn(ctx, depositID, trigger, linked)
}

func (s stubLedger) MarkFailed(ctx context.Context, depositID, expected, reason, trigger string, manualReview bool, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	if s.markFailedFn == nil {
		if linked != nil {
			if err := linked(nil); err != nil {
				return models.Deposit{}, err
			}
		}
		return models.Deposit{ID: depositID, Status: models.StatusFailed}, nil
	}
	return s.markFailedFn(ctx, depositID, expected, reason, trigger, manualReview, linked)
}

type stubChainTxStore struct {
	insertFn         func(ctx context.Context, tx store.Execer, input store.ChainTxInput) error
	getByIDFn        func(ctx context.Context, txID string) (models.BlockchainTransaction, error)
	nextLocalNonceFn func(ctx context.Context, networkID, fromAddress string) (int64, error)
	setTxHashFn      func(ctx context.Context, txID, txHash string) (int64, error)
	deleteFn         func(ctx context.Context, txID string) error
	listByDepositFn  func(ctx context.Context, depositID string) ([]models.BlockchainTransaction, error)
	listPollableFn   func(ctx context.Context, maxAttempts, limit int) ([]models.BlockchainTransaction, error)
	updateConfirmsFn func(ctx context.Context, tx store.Execer, txID string, confirmations int, blockNumber *int64, blockHash *string) (int64, error)
	markConfirmedFn  func(ctx context.Context, tx store.Execer, txID string, confirmedAt time.Time) (int64, error)
	incrementPollsFn func(ctx context.Context, txID string) (int, error)
}

func (s stubChainTxStore) Insert(ctx context.Context, tx store.Execer, input store.ChainTxInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, input)
}

func (s stubChainTxStore) GetByID(ctx context.Context, txID string) (models.BlockchainTransaction, error) {
	if s.getByIDFn == nil {
		return models.BlockchainTransaction{ID: txID}, nil
	}
	return s.getByIDFn(ctx, txID)
}

func (s stubChainTxStore) NextLocalNonce(ctx context.Context, networkID, fromAddress string) (int64, error) {
	if s.nextLocalNonceFn == nil {
		return 0, nil
	}
	return s.nextLocalNonceFn(ctx, networkID, fromAddress)
}

func (s stubChainTxStore) SetTxHash(ctx context.Context, txID, txHash string) (int64, error) {
	if s.setTxHashFn == nil {
		return 1, nil
	}
	return s.setTxHashFn(ctx, txID, txHash)
}

func (s stubChainTxStore) DeleteUnsubmitted(ctx context.Context, txID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, txID)
}

func (s stubChainTxStore) ListByDeposit(ctx context.Context, depositID string) ([]models.BlockchainTransaction, error) {
	if s.listByDepositFn == nil {
		return nil, nil
	}
	return s.listByDepositFn(ctx, depositID)
}

func (s stubChainTxStore) ListPollable(ctx context.Context, maxAttempts, limit int) ([]models.BlockchainTransaction, error) {
	if s.listPollableFn == nil {
		return nil, nil
	}
	return s.listPollableFn(ctx, maxAttempts, limit)
}

func (s stubChainTxStore) UpdateConfirmations(ctx context.Context, tx store.Execer, txID string, confirmations int, blockNumber *int64, blockHash *string) (int64, error) {
	if s.updateConfirmsFn == nil {
		return 1, nil
	}
	return s.updateConfirmsFn(ctx, tx, txID, confirmations, blockNumber, blockHash)
}

func (s stubChainTxStore) MarkConfirmed(ctx context.Context, tx store.Execer, txID string, confirmedAt time.Time) (int64, error) {
	if s.markConfirmedFn == nil {
		return 1, nil
	}
	return s.markConfirmedFn(ctx, tx, txID, confirmedAt)
}

func (s stubChainTxStore) IncrementPollAttempts(ctx context.Context, txID string) (int, error) {
	if s.incrementPollsFn == nil {
		return 1, nil
	}
	return s.incrementPollsFn(ctx, txID)
}

type stubNetworkReader struct {
	getByIDFn func(ctx context.Context, networkID string) (models.Network, error)
}

func (s stubNetworkReader) GetByID(ctx context.Context, networkID string) (models.Network, error) {
	if s.getByIDFn == nil {
		return models.Network{ID: networkID, IsActive: true}, nil
	}
	return s.getByIDFn(ctx, networkID)
}

type stubScreen struct {
	isBlockedFn func(ctx context.Context, address, networkID string) (bool, string, error)
}

func (s stubScreen) IsBlocked(ctx context.Context, address, networkID string) (bool, string, error) {
	if s.isBlockedFn == nil {
		return false, "", nil
	}
	return s.isBlockedFn(ctx, address, networkID)
}

type stubChainClient struct {
	submitFn        func(ctx context.Context, req chain.SubmitRequest) (chain.SubmitResult, error)
	confirmationsFn func(ctx context.Context, chainID int64, txHash string) (chain.ConfirmationStatus, error)
	pendingNonceFn  func(ctx context.Context, chainID int64, address string) (int64, error)
}

func (s stubChainClient) SubmitTransaction(ctx context.Context, req chain.SubmitRequest) (chain.SubmitResult, error) {
	if s.submitFn == nil {
		return chain.SubmitResult{TxHash: testTxHash}, nil
	}
	return s.submitFn(ctx, req)
}

func (s stubChainClient) GetConfirmations(ctx context.Context, chainID int64, txHash string) (chain.ConfirmationStatus, error) {
	if s.confirmationsFn == nil {
		return chain.ConfirmationStatus{}, nil
	}
	return s.confirmationsFn(ctx, chainID, txHash)
}

func (s stubChainClient) PendingNonce(ctx context.Context, chainID int64, address string) (int64, error) {
	if s.pendingNonceFn == nil {
		return 0, nil
	}
	return s.pendingNonceFn(ctx, chainID, address)
}

type stubVault struct {
	generateFn func() (keyvault.WalletKey, error)
}

func (s stubVault) GenerateWalletKey() (keyvault.WalletKey, error) {
	if s.generateFn == nil {
		return keyvault.WalletKey{Address: "0x00112233445566778899aabbccddeeff00112233", EncryptedKey: "sealed"}, nil
	}
	return s.generateFn()
}

func (s stubVault) DecryptKey(string) ([]byte, error) {
	return nil, nil
}
