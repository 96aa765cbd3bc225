package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit statuses. COMPLETED, FAILED and REFUNDED are terminal.
const (
	StatusPending       = "PENDING"
	StatusProcessing    = "PROCESSING"
	StatusMintSubmitted = "MINT_SUBMITTED"
	StatusCompleted     = "COMPLETED"
	StatusFailed        = "FAILED"
	StatusRefunded      = "REFUNDED"
)

// Failure reasons recorded on deposits that reach FAILED.
const (
	ReasonGatewayDeclined    = "GATEWAY_DECLINED"
	ReasonComplianceBlocked  = "COMPLIANCE_BLOCKED"
	ReasonMintFailed         = "BLOCKCHAIN_MINT_FAILED"
	ReasonConfirmationFailed = "BLOCKCHAIN_CONFIRMATION_FAILED"
)

const (
	WalletTypeCustodial = "CUSTODIAL"
	WalletTypeExternal  = "EXTERNAL"
)

type Deposit struct {
	ID                     string          `db:"id" json:"-"`
	PublicID               string          `db:"public_id" json:"id"`
	UserID                 string          `db:"user_id" json:"user_id"`
	WalletID               string          `db:"wallet_id" json:"wallet_id"`
	Status                 string          `db:"status" json:"status"`
	GatewaySessionID       string          `db:"gateway_session_id" json:"-"`
	GatewayPaymentIntentID *string         `db:"gateway_payment_intent_id" json:"-"`
	AmountCents            int64           `db:"amount_cents" json:"amount_cents"`
	FeeCents               int64           `db:"fee_cents" json:"fee_cents"`
	NetAmountCents         int64           `db:"net_amount_cents" json:"net_amount_cents"`
	TokenAmount            decimal.Decimal `db:"token_amount" json:"token_amount"`
	ExchangeRate           decimal.Decimal `db:"exchange_rate" json:"exchange_rate"`
	BlockchainTxID         *string         `db:"blockchain_tx_id" json:"blockchain_tx_id,omitempty"`
	IdempotencyKey         *string         `db:"idempotency_key" json:"-"`
	FailureReason          *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	ManualReview           bool            `db:"manual_review" json:"manual_review"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at" json:"-"`
	CompletedAt            *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

func (d Deposit) Terminal() bool {
	switch d.Status {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

type BlockchainTransaction struct {
	ID                    string          `db:"id" json:"-"`
	PublicID              string          `db:"public_id" json:"id"`
	DepositID             string          `db:"deposit_id" json:"-"`
	NetworkID             string          `db:"network_id" json:"network_id"`
	TxType                string          `db:"tx_type" json:"tx_type"`
	FromAddress           string          `db:"from_address" json:"from_address"`
	ToAddress             string          `db:"to_address" json:"to_address"`
	TxHash                *string         `db:"tx_hash" json:"tx_hash,omitempty"`
	BlockNumber           *int64          `db:"block_number" json:"block_number,omitempty"`
	BlockHash             *string         `db:"block_hash" json:"block_hash,omitempty"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	Nonce                 *int64          `db:"nonce" json:"nonce,omitempty"`
	IsConfirmed           bool            `db:"is_confirmed" json:"is_confirmed"`
	Confirmations         int             `db:"confirmations" json:"confirmations"`
	RequiredConfirmations int             `db:"required_confirmations" json:"required_confirmations"`
	PollAttempts          int             `db:"poll_attempts" json:"-"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	ConfirmedAt           *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

type WebhookEvent struct {
	ID              string     `db:"id"`
	GatewayEventID  string     `db:"gateway_event_id"`
	EventType       string     `db:"event_type"`
	Payload         []byte     `db:"payload"`
	ProcessedAt     *time.Time `db:"processed_at"`
	ProcessingError *string    `db:"processing_error"`
	RetryCount      int        `db:"retry_count"`
	CreatedAt       time.Time  `db:"created_at"`
}

type Wallet struct {
	ID                  string     `db:"id" json:"-"`
	PublicID            string     `db:"public_id" json:"id"`
	UserID              string     `db:"user_id" json:"user_id"`
	NetworkID           string     `db:"network_id" json:"network_id"`
	Address             string     `db:"address" json:"address"`
	Label               *string    `db:"label" json:"label,omitempty"`
	IsPrimary           bool       `db:"is_primary" json:"is_primary"`
	WalletType          string     `db:"wallet_type" json:"wallet_type"`
	ProviderName        *string    `db:"provider_name" json:"provider_name,omitempty"`
	EncryptedPrivateKey *string    `db:"encrypted_private_key" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"-"`
	DeletedAt           *time.Time `db:"deleted_at" json:"-"`
}

type BlacklistedAddress struct {
	ID        string     `db:"id"`
	Address   string     `db:"address"`
	NetworkID *string    `db:"network_id"`
	Reason    string     `db:"reason"`
	Source    *string    `db:"source"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Network is static configuration; the engine reads it and never mutates it.
type Network struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	ChainID         int64     `db:"chain_id"`
	RPCURL          *string   `db:"rpc_url"`
	ContractAddress *string   `db:"contract_address"`
	MinterAddress   *string   `db:"minter_address"`
	IsTestnet       bool      `db:"is_testnet"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
}

type AuditLog struct {
	ID             string    `db:"id"`
	ActorUserID    *string   `db:"actor_user_id"`
	ActorSessionID *string   `db:"actor_session_id"`
	Action         string    `db:"action"`
	EntityType     string    `db:"entity_type"`
	EntityID       string    `db:"entity_id"`
	OldValues      *string   `db:"old_values"`
	NewValues      *string   `db:"new_values"`
	Metadata       string    `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
}
