package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"onramp/internal/apperr"
	"onramp/internal/db"
	"onramp/internal/gateway"
	"onramp/internal/models"
	"onramp/internal/money"
	"onramp/internal/store"
	"onramp/internal/validator"
	"onramp/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Transition triggers recorded with each audit row.
const (
	TriggerAPI       = "api"
	TriggerWebhook   = "webhook"
	TriggerChainPoll = "chain_poll"
	TriggerAdmin     = "admin"
	TriggerRecovery  = "recovery"
)

// allowedTransitions is the deposit state graph. Terminal states have no
// outgoing edges except the admin-only COMPLETED -> REFUNDED.
var allowedTransitions = map[string][]string{
	models.StatusPending:       {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing:    {models.StatusMintSubmitted, models.StatusFailed},
	models.StatusMintSubmitted: {models.StatusCompleted, models.StatusFailed},
	models.StatusCompleted:     {models.StatusRefunded},
}

type DepositStore interface {
	Create(ctx context.Context, tx store.Execer, input store.DepositInput) error
	GetByID(ctx context.Context, depositID string) (models.Deposit, error)
	GetByIdempotencyKey(ctx context.Context, key string) (models.Deposit, error)
	UpdateStatus(ctx context.Context, tx store.Execer, depositID, expected, next string) (int64, error)
	SetFailure(ctx context.Context, tx store.Execer, depositID, reason string, manualReview bool) error
	SetCompletedAt(ctx context.Context, tx store.Execer, depositID string, completedAt time.Time) error
}

type WalletReader interface {
	GetByID(ctx context.Context, walletID string) (models.Wallet, error)
}

type AuditStore interface {
	Record(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
}

type DepositHub interface {
	BroadcastDeposit(userID string, update websocket.DepositUpdate)
}

// DepositService is the deposit ledger: the single owner of deposit rows and
// their state machine.
type DepositService struct {
	txRunner   db.TxRunner
	deposits   DepositStore
	wallets    WalletReader
	audit      AuditStore
	checkout   gateway.CheckoutClient
	hub        DepositHub
	successURL string
	cancelURL  string
	logger     *slog.Logger
}

func NewDepositService(txRunner db.TxRunner, deposits DepositStore, wallets WalletReader, audit AuditStore, checkout gateway.CheckoutClient, hub DepositHub, successURL, cancelURL string, logger *slog.Logger) *DepositService {
	return &DepositService{
		txRunner:   txRunner,
		deposits:   deposits,
		wallets:    wallets,
		audit:      audit,
		checkout:   checkout,
		hub:        hub,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

type CreateDepositRequest struct {
	UserID         string
	WalletID       string
	AmountCents    int64
	FeeCents       int64
	TokenAmount    decimal.Decimal
	ExchangeRate   decimal.Decimal
	IdempotencyKey *string
}

type CreateDepositResult struct {
	Deposit     models.Deposit
	CheckoutURL string
	Replayed    bool
}

func (s *DepositService) Create(ctx context.Context, req CreateDepositRequest) (CreateDepositResult, error) {
	if err := validateCreate(req); err != nil {
		return CreateDepositResult{}, err
	}
	if req.IdempotencyKey != nil {
		existing, err := s.deposits.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err == nil {
			return CreateDepositResult{Deposit: existing, Replayed: true}, nil
		}
		if err != store.ErrNotFound {
			return CreateDepositResult{}, internalErr(err)
		}
	}

	wallet, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		if err == store.ErrNotFound {
			return CreateDepositResult{}, &apperr.ValidationFailed{Field: "wallet_id", Constraint: "must reference an existing wallet"}
		}
		return CreateDepositResult{}, internalErr(err)
	}
	if wallet.UserID != req.UserID {
		return CreateDepositResult{}, &apperr.ValidationFailed{Field: "wallet_id", Constraint: "must belong to the requesting user"}
	}

	depositID := uuid.NewString()
	publicID := uuid.NewString()
	session, err := s.checkout.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		AmountCents: req.AmountCents,
		Currency:    "usd",
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
		Metadata: map[string]string{
			"deposit_id":     publicID,
			"display_amount": money.FormatMinor(req.AmountCents),
		},
	})
	if err != nil {
		return CreateDepositResult{}, internalErr(err)
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deposits.Create(ctx, tx, store.DepositInput{
			ID:               depositID,
			PublicID:         publicID,
			UserID:           req.UserID,
			WalletID:         req.WalletID,
			Status:           models.StatusPending,
			GatewaySessionID: session.ID,
			AmountCents:      req.AmountCents,
			FeeCents:         req.FeeCents,
			TokenAmount:      req.TokenAmount,
			ExchangeRate:     req.ExchangeRate,
			IdempotencyKey:   req.IdempotencyKey,
		}); err != nil {
			return err
		}
		newValues := statusJSON(models.StatusPending)
		return s.audit.Record(ctx, tx, store.AuditEntry{
			Action:      "deposit.created",
			EntityType:  "deposit",
			EntityID:    depositID,
			NewValues:   &newValues,
			Metadata:    metadataJSON(map[string]any{"trigger": TriggerAPI, "amount_cents": req.AmountCents}),
			ActorUserID: &req.UserID,
		})
	})
	if err != nil {
		// Two racing requests with the same key: the loser reads the winner.
		if req.IdempotencyKey != nil && store.IsUniqueViolation(err, "") {
			existing, readErr := s.deposits.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
			if readErr == nil {
				return CreateDepositResult{Deposit: existing, Replayed: true}, nil
			}
		}
		return CreateDepositResult{}, internalErr(err)
	}

	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return CreateDepositResult{}, internalErr(err)
	}
	s.logger.Info("deposit.initiated",
		"deposit_id", deposit.PublicID,
		"user_id", deposit.UserID,
		"amount_cents", deposit.AmountCents,
		"token_amount", deposit.TokenAmount.String(),
	)
	return CreateDepositResult{Deposit: deposit, CheckoutURL: session.URL}, nil
}

// Transition performs the compare-and-swap status change. The linked callback
// runs inside the same transaction after a successful swap, so attached writes
// and the audit row commit atomically with the status.
func (s *DepositService) Transition(ctx context.Context, depositID, expected, next, trigger string, metadata map[string]any, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	if !edgeAllowed(expected, next) {
		return models.Deposit{}, &apperr.ValidationFailed{Field: "status", Constraint: expected + " cannot move to " + next}
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.deposits.UpdateStatus(ctx, tx, depositID, expected, next)
		if err != nil {
			return err
		}
		if affected == 0 {
			return &apperr.StaleTransition{DepositID: depositID, Expected: expected, Next: next}
		}
		if next == models.StatusCompleted {
			if err := s.deposits.SetCompletedAt(ctx, tx, depositID, time.Now().UTC()); err != nil {
				return err
			}
		}
		if linked != nil {
			if err := linked(tx); err != nil {
				return err
			}
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["trigger"] = trigger
		oldValues := statusJSON(expected)
		newValues := statusJSON(next)
		return s.audit.Record(ctx, tx, store.AuditEntry{
			Action:      "deposit.status_changed",
			EntityType:  "deposit",
			EntityID:    depositID,
			OldValues:   &oldValues,
			NewValues:   &newValues,
			Metadata:    metadataJSON(metadata),
			ActorUserID: actorFromMetadata(metadata),
		})
	})
	if err != nil {
		return models.Deposit{}, err
	}

	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return models.Deposit{}, internalErr(err)
	}
	update := websocket.DepositUpdate{DepositID: deposit.PublicID, Status: deposit.Status}
	if deposit.FailureReason != nil {
		update.Reason = *deposit.FailureReason
	}
	s.hub.BroadcastDeposit(deposit.UserID, update)
	s.logger.Info("deposit.status_changed",
		"deposit_id", deposit.PublicID,
		"from", expected,
		"to", next,
		"trigger", trigger,
	)
	return deposit, nil
}

// MarkCompleted moves a deposit with a confirmed mint to its terminal success
// state.
func (s *DepositService) MarkCompleted(ctx context.Context, depositID, trigger string, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	return s.Transition(ctx, depositID, models.StatusMintSubmitted, models.StatusCompleted, trigger, nil, linked)
}

// MarkFailed moves a deposit to FAILED, recording the reason and whether a
// human needs to look at it.
func (s *DepositService) MarkFailed(ctx context.Context, depositID, expected, reason, trigger string, manualReview bool, linked func(tx *sqlx.Tx) error) (models.Deposit, error) {
	metadata := map[string]any{"reason": reason, "manual_review": manualReview}
	return s.Transition(ctx, depositID, expected, models.StatusFailed, trigger, metadata, func(tx *sqlx.Tx) error {
		if err := s.deposits.SetFailure(ctx, tx, depositID, reason, manualReview); err != nil {
			return err
		}
		if linked != nil {
			return linked(tx)
		}
		return nil
	})
}

// Refund is the admin-only exit from COMPLETED.
func (s *DepositService) Refund(ctx context.Context, depositID, actorUserID string) (models.Deposit, error) {
	metadata := map[string]any{"actor_user_id": actorUserID}
	return s.Transition(ctx, depositID, models.StatusCompleted, models.StatusRefunded, TriggerAdmin, metadata, nil)
}

func validateCreate(req CreateDepositRequest) error {
	if req.AmountCents <= 0 {
		return &apperr.ValidationFailed{Field: "amount_cents", Constraint: "must be positive"}
	}
	if req.FeeCents < 0 {
		return &apperr.ValidationFailed{Field: "fee_cents", Constraint: "must be non-negative"}
	}
	if req.FeeCents > req.AmountCents {
		return &apperr.ValidationFailed{Field: "fee_cents", Constraint: "must not exceed amount"}
	}
	if !req.TokenAmount.IsPositive() {
		return &apperr.ValidationFailed{Field: "token_amount", Constraint: "must be positive"}
	}
	if !req.ExchangeRate.IsPositive() {
		return &apperr.ValidationFailed{Field: "exchange_rate", Constraint: "must be positive"}
	}
	if req.IdempotencyKey != nil {
		if err := validator.ValidateIdempotencyKey(*req.IdempotencyKey); err != nil {
			return &apperr.ValidationFailed{Field: "idempotency_key", Constraint: "must be 1-255 url-safe characters"}
		}
	}
	return nil
}

func edgeAllowed(expected, next string) bool {
	for _, allowed := range allowedTransitions[expected] {
		if allowed == next {
			return true
		}
	}
	return false
}

func statusJSON(status string) string {
	data, _ := json.Marshal(map[string]string{"status": status})
	return string(data)
}

func metadataJSON(metadata map[string]any) string {
	data, _ := json.Marshal(metadata)
	return string(data)
}

func actorFromMetadata(metadata map[string]any) *string {
	actor, ok := metadata["actor_user_id"].(string)
	if !ok || actor == "" {
		return nil
	}
	return &actor
}

func internalErr(err error) error {
	return &apperr.Internal{Reference: uuid.NewString()[:8], Cause: err}
}
