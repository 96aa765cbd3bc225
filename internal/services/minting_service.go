package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"onramp/internal/apperr"
	"onramp/internal/chain"
	"onramp/internal/db"
	"onramp/internal/models"
	"onramp/internal/store"
	"onramp/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const mintTxType = "MINT"

// recoveryGrace keeps the sweep off deposits whose submission may still be
// in flight; it must exceed the submission timeout in cmd/server.
const recoveryGrace = 5 * time.Minute

type ChainTxStore interface {
	Insert(ctx context.Context, tx store.Execer, input store.ChainTxInput) error
	GetByID(ctx context.Context, txID string) (models.BlockchainTransaction, error)
	NextLocalNonce(ctx context.Context, networkID, fromAddress string) (int64, error)
	SetTxHash(ctx context.Context, txID, txHash string) (int64, error)
	DeleteUnsubmitted(ctx context.Context, txID string) error
	ListByDeposit(ctx context.Context, depositID string) ([]models.BlockchainTransaction, error)
	ListPollable(ctx context.Context, maxAttempts, limit int) ([]models.BlockchainTransaction, error)
	UpdateConfirmations(ctx context.Context, tx store.Execer, txID string, confirmations int, blockNumber *int64, blockHash *string) (int64, error)
	MarkConfirmed(ctx context.Context, tx store.Execer, txID string, confirmedAt time.Time) (int64, error)
	IncrementPollAttempts(ctx context.Context, txID string) (int, error)
}

type MintDepositStore interface {
	GetByID(ctx context.Context, depositID string) (models.Deposit, error)
	GetByBlockchainTxID(ctx context.Context, blockchainTxID string) (models.Deposit, error)
	LinkBlockchainTx(ctx context.Context, tx store.Execer, depositID, blockchainTxID string) error
	ListUnsubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Deposit, error)
}

type NetworkReader interface {
	GetByID(ctx context.Context, networkID string) (models.Network, error)
}

type Screen interface {
	IsBlocked(ctx context.Context, address, networkID string) (bool, string, error)
}

// MintingService submits mint transactions and tracks them to finality,
// driving the deposit ledger to COMPLETED or FAILED.
type MintingService struct {
	txRunner         db.TxRunner
	deposits         MintDepositStore
	chainTxs         ChainTxStore
	wallets          WalletReader
	networks         NetworkReader
	screen           Screen
	client           chain.Client
	ledger           DepositLedger
	nonceMaxAttempts int
	maxPolls         int
	logger           *slog.Logger
}

func NewMintingService(txRunner db.TxRunner, deposits MintDepositStore, chainTxs ChainTxStore, wallets WalletReader, networks NetworkReader, screen Screen, client chain.Client, ledger DepositLedger, nonceMaxAttempts, maxPolls int, logger *slog.Logger) *MintingService {
	return &MintingService{
		txRunner:         txRunner,
		deposits:         deposits,
		chainTxs:         chainTxs,
		wallets:          wallets,
		networks:         networks,
		screen:           screen,
		client:           client,
		ledger:           ledger,
		nonceMaxAttempts: nonceMaxAttempts,
		maxPolls:         maxPolls,
		logger:           logger,
	}
}

// SubmitMint reserves a nonce, submits the mint transaction and moves the
// deposit to MINT_SUBMITTED. It is safe to call more than once for the same
// deposit; only the PROCESSING state accepts a submission.
func (s *MintingService) SubmitMint(ctx context.Context, depositID string) error {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return err
	}
	if deposit.Status != models.StatusProcessing {
		s.logger.Info("mint.skipped", "deposit_id", deposit.PublicID, "status", deposit.Status)
		return nil
	}

	wallet, err := s.wallets.GetByID(ctx, deposit.WalletID)
	if err != nil {
		return s.failSubmission(ctx, deposit, "", fmt.Sprintf("wallet lookup: %v", err))
	}
	network, err := s.networks.GetByID(ctx, wallet.NetworkID)
	if err != nil {
		return s.failSubmission(ctx, deposit, "", fmt.Sprintf("network lookup: %v", err))
	}
	if !network.IsActive || network.ContractAddress == nil || network.MinterAddress == nil {
		return s.failSubmission(ctx, deposit, "", "network is not mint-capable")
	}
	minter := *network.MinterAddress

	for _, address := range []string{minter, wallet.Address} {
		blocked, reason, err := s.screen.IsBlocked(ctx, address, network.ID)
		if err != nil {
			return err
		}
		if blocked {
			if _, err := s.ledger.MarkFailed(ctx, deposit.ID, models.StatusProcessing, models.ReasonComplianceBlocked, TriggerChainPoll, false, nil); err != nil {
				return benignStale(err)
			}
			s.logger.Warn("deposit.compliance_blocked", "deposit_id", deposit.PublicID)
			return &apperr.ComplianceBlocked{Address: address, Reason: reason}
		}
	}

	requiredConfirmations := requiredConfirmationsFor(network)

	for attempt := 1; attempt <= s.nonceMaxAttempts; attempt++ {
		nonce, err := s.nextNonce(ctx, network, minter)
		if err != nil {
			return s.failSubmission(ctx, deposit, "", fmt.Sprintf("nonce fetch: %v", err))
		}

		txID := uuid.NewString()
		if err := s.reserve(ctx, store.ChainTxInput{
			ID:                    txID,
			PublicID:              uuid.NewString(),
			DepositID:             deposit.ID,
			NetworkID:             network.ID,
			TxType:                mintTxType,
			FromAddress:           minter,
			ToAddress:             wallet.Address,
			Amount:                deposit.TokenAmount,
			Nonce:                 nonce,
			RequiredConfirmations: requiredConfirmations,
		}); err != nil {
			if store.IsUniqueViolation(err, store.UniqueNonceConstraint) {
				s.logger.Info("mint.nonce_conflict", "deposit_id", deposit.PublicID, "nonce", nonce, "attempt", attempt)
				continue
			}
			return s.failSubmission(ctx, deposit, "", fmt.Sprintf("nonce reservation: %v", err))
		}

		result, err := s.client.SubmitTransaction(ctx, chain.SubmitRequest{
			ChainID:         network.ChainID,
			ContractAddress: *network.ContractAddress,
			FromAddress:     minter,
			ToAddress:       wallet.Address,
			Amount:          deposit.TokenAmount,
			Nonce:           nonce,
		})
		if err != nil {
			// The reservation never reached the chain; release it.
			if delErr := s.chainTxs.DeleteUnsubmitted(ctx, txID); delErr != nil {
				s.logger.Error("mint.reservation_not_released", "tx_id", txID, "error", delErr)
			}
			return s.failSubmission(ctx, deposit, "", fmt.Sprintf("submission: %v", err))
		}
		if err := validator.ValidateTxHash(result.TxHash); err != nil {
			if delErr := s.chainTxs.DeleteUnsubmitted(ctx, txID); delErr != nil {
				s.logger.Error("mint.reservation_not_released", "tx_id", txID, "error", delErr)
			}
			return s.failSubmission(ctx, deposit, "", fmt.Sprintf("node returned malformed hash %q", result.TxHash))
		}

		// Hash recorded before the deposit transition: once it exists the
		// transaction is never resubmitted, whatever happens next.
		if _, err := s.chainTxs.SetTxHash(ctx, txID, result.TxHash); err != nil {
			return s.failSubmission(ctx, deposit, result.TxHash, fmt.Sprintf("hash record: %v", err))
		}

		_, err = s.ledger.Transition(ctx, deposit.ID, models.StatusProcessing, models.StatusMintSubmitted, TriggerWebhook,
			map[string]any{"tx_hash": result.TxHash, "nonce": nonce},
			func(tx *sqlx.Tx) error {
				return s.deposits.LinkBlockchainTx(ctx, tx, deposit.ID, txID)
			})
		if err != nil {
			return benignStale(err)
		}
		s.logger.Info("deposit.mint.submitted",
			"deposit_id", deposit.PublicID,
			"tx_hash", result.TxHash,
			"nonce", nonce,
			"network", network.Name,
		)
		return nil
	}

	return s.failSubmission(ctx, deposit, "", fmt.Sprintf("nonce conflicts exhausted %d attempts", s.nonceMaxAttempts))
}

// RecoverSubmissions picks up deposits whose submission died between the
// webhook transition and the mint going out: PROCESSING, no linked
// transaction, and old enough that no submission goroutine can still hold
// them. A reservation that already carries a hash reached the chain, so the
// deposit is relinked to it rather than minted again; hashless reservations
// are released and the submission retried from the top.
func (s *MintingService) RecoverSubmissions(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-recoveryGrace)
	deposits, err := s.deposits.ListUnsubmitted(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	for _, deposit := range deposits {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.recoverDeposit(ctx, deposit); err != nil {
			s.logger.Error("mint.recovery_failed", "deposit_id", deposit.PublicID, "error", err)
		}
	}
	return nil
}

func (s *MintingService) recoverDeposit(ctx context.Context, deposit models.Deposit) error {
	rows, err := s.chainTxs.ListByDeposit(ctx, deposit.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.TxHash == nil {
			if err := s.chainTxs.DeleteUnsubmitted(ctx, row.ID); err != nil {
				return err
			}
			continue
		}
		// The mint is on-chain; reattach the deposit to it.
		rowID := row.ID
		_, err := s.ledger.Transition(ctx, deposit.ID, models.StatusProcessing, models.StatusMintSubmitted, TriggerRecovery,
			map[string]any{"tx_hash": *row.TxHash, "recovered": true},
			func(tx *sqlx.Tx) error {
				return s.deposits.LinkBlockchainTx(ctx, tx, deposit.ID, rowID)
			})
		if err != nil {
			return benignStale(err)
		}
		s.logger.Warn("deposit.mint.relinked", "deposit_id", deposit.PublicID, "tx_hash", *row.TxHash)
		return nil
	}
	s.logger.Info("mint.recovery_resubmitting", "deposit_id", deposit.PublicID)
	return s.SubmitMint(ctx, deposit.ID)
}

// ObserveConfirmation applies a confirmation report to a tracked transaction.
// Confirmation counts only move up; reaching the required count confirms the
// transaction and completes the deposit in one atomic step.
func (s *MintingService) ObserveConfirmation(ctx context.Context, txID string, confirmations int, blockNumber *int64, blockHash *string) error {
	row, err := s.chainTxs.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if row.IsConfirmed {
		return nil
	}
	if confirmations < row.Confirmations {
		s.logger.Warn("confirmation.decrease_ignored", "tx_id", txID, "stored", row.Confirmations, "reported", confirmations)
		return nil
	}

	if confirmations < row.RequiredConfirmations {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := s.chainTxs.UpdateConfirmations(ctx, tx, txID, confirmations, blockNumber, blockHash)
			return err
		})
	}

	deposit, err := s.deposits.GetByBlockchainTxID(ctx, txID)
	if err != nil {
		return err
	}
	_, err = s.ledger.MarkCompleted(ctx, deposit.ID, TriggerChainPoll, func(tx *sqlx.Tx) error {
		if _, err := s.chainTxs.UpdateConfirmations(ctx, tx, txID, confirmations, blockNumber, blockHash); err != nil {
			return err
		}
		affected, err := s.chainTxs.MarkConfirmed(ctx, tx, txID, time.Now().UTC())
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.New("transaction already confirmed")
		}
		return nil
	})
	if err != nil {
		return benignStale(err)
	}
	s.logger.Info("deposit.completed", "deposit_id", deposit.PublicID, "tx_id", txID, "confirmations", confirmations)
	return nil
}

// PollConfirmations makes one bounded pass over tracked transactions. Rows
// that exhaust their budget fail the deposit out; the engine never polls a
// transaction forever.
func (s *MintingService) PollConfirmations(ctx context.Context) error {
	rows, err := s.chainTxs.ListPollable(ctx, s.maxPolls, 100)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts, err := s.chainTxs.IncrementPollAttempts(ctx, row.ID)
		if err != nil {
			s.logger.Error("poll.attempt_not_counted", "tx_id", row.ID, "error", err)
			continue
		}
		network, err := s.networks.GetByID(ctx, row.NetworkID)
		if err != nil {
			s.logger.Error("poll.network_lookup_failed", "tx_id", row.ID, "error", err)
			continue
		}
		status, err := s.client.GetConfirmations(ctx, network.ChainID, *row.TxHash)
		if err != nil {
			s.logger.Warn("poll.node_error", "tx_id", row.ID, "attempt", attempts, "error", err)
		} else if err := s.ObserveConfirmation(ctx, row.ID, status.Confirmations, status.BlockNumber, status.BlockHash); err != nil {
			s.logger.Error("poll.observe_failed", "tx_id", row.ID, "error", err)
		}

		if attempts >= s.maxPolls {
			if err := s.failConfirmation(ctx, row, attempts); err != nil {
				s.logger.Error("poll.timeout_not_applied", "tx_id", row.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *MintingService) failConfirmation(ctx context.Context, row models.BlockchainTransaction, attempts int) error {
	refreshed, err := s.chainTxs.GetByID(ctx, row.ID)
	if err != nil {
		return err
	}
	if refreshed.IsConfirmed {
		return nil
	}
	deposit, err := s.deposits.GetByBlockchainTxID(ctx, row.ID)
	if err != nil {
		return err
	}
	_, err = s.ledger.MarkFailed(ctx, deposit.ID, models.StatusMintSubmitted, models.ReasonConfirmationFailed, TriggerChainPoll, true, nil)
	if err != nil {
		return benignStale(err)
	}
	s.logger.Error("deposit.confirmation_timeout", "deposit_id", deposit.PublicID, "tx_id", row.ID, "attempts", attempts)
	return nil
}

func (s *MintingService) failSubmission(ctx context.Context, deposit models.Deposit, txHash, reason string) error {
	_, err := s.ledger.MarkFailed(ctx, deposit.ID, models.StatusProcessing, models.ReasonMintFailed, TriggerWebhook, true, nil)
	if err != nil {
		return benignStale(err)
	}
	s.logger.Error("deposit.mint.failed", "deposit_id", deposit.PublicID, "reason", reason)
	return &apperr.BlockchainMintFailed{TxHash: txHash, Reason: reason}
}

// nextNonce takes the larger of the chain's pending nonce and the next locally
// reserved one, so neither view can hand out a nonce the other already used.
func (s *MintingService) nextNonce(ctx context.Context, network models.Network, fromAddress string) (int64, error) {
	local, err := s.chainTxs.NextLocalNonce(ctx, network.ID, fromAddress)
	if err != nil {
		return 0, err
	}
	pending, err := s.client.PendingNonce(ctx, network.ChainID, fromAddress)
	if err != nil {
		return 0, err
	}
	if local > pending {
		return local, nil
	}
	return pending, nil
}

func (s *MintingService) reserve(ctx context.Context, input store.ChainTxInput) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.chainTxs.Insert(ctx, tx, input)
	})
}

func requiredConfirmationsFor(network models.Network) int {
	if network.IsTestnet {
		return 1
	}
	return 3
}

func benignStale(err error) error {
	var stale *apperr.StaleTransition
	if errors.As(err, &stale) {
		return nil
	}
	return err
}
