// Package apperr defines the failure taxonomy of the deposit engine. Each
// variant carries only the fields relevant to it; user-facing text is kept
// generic so internal detail never leaks to callers.
package apperr

import "fmt"

type ValidationFailed struct {
	Field      string
	Constraint string
}

func (e *ValidationFailed) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Constraint)
}

func (e *ValidationFailed) UserMessage() string {
	return "Please check your input and try again."
}

type GatewayDeclined struct {
	Code        string
	DeclineCode string
}

func (e *GatewayDeclined) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Code)
}

func (e *GatewayDeclined) UserMessage() string {
	return "Your payment was declined. Please check your card details or try a different payment method."
}

type ComplianceBlocked struct {
	Address string
	Reason  string
}

func (e *ComplianceBlocked) Error() string {
	return fmt.Sprintf("address %s blocked: %s", e.Address, e.Reason)
}

func (e *ComplianceBlocked) UserMessage() string {
	return "We are unable to process this deposit."
}

type BlockchainMintFailed struct {
	TxHash string
	Reason string
}

func (e *BlockchainMintFailed) Error() string {
	return fmt.Sprintf("mint submission failed: %s", e.Reason)
}

func (e *BlockchainMintFailed) UserMessage() string {
	return "We're experiencing technical difficulties processing your deposit. Our team has been notified."
}

type BlockchainConfirmationFailed struct {
	TxHash   string
	Attempts int
}

func (e *BlockchainConfirmationFailed) Error() string {
	return fmt.Sprintf("confirmation not reached for %s after %d polls", e.TxHash, e.Attempts)
}

func (e *BlockchainConfirmationFailed) UserMessage() string {
	return "Your deposit is taking longer than expected to confirm. Please check back in a few minutes."
}

// StaleTransition reports a compare-and-swap miss on a deposit status. It is
// benign under concurrent webhook and poller callbacks and is never surfaced.
type StaleTransition struct {
	DepositID string
	Expected  string
	Next      string
}

func (e *StaleTransition) Error() string {
	return fmt.Sprintf("deposit %s is no longer %s", e.DepositID, e.Expected)
}

// RetryLater signals a transient webhook processing failure; the caller should
// nack so the gateway redelivers.
type RetryLater struct {
	Cause error
}

func (e *RetryLater) Error() string {
	return fmt.Sprintf("retry later: %v", e.Cause)
}

func (e *RetryLater) Unwrap() error {
	return e.Cause
}

type Internal struct {
	Reference string
	Cause     error
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.Reference, e.Cause)
}

func (e *Internal) Unwrap() error {
	return e.Cause
}

func (e *Internal) UserMessage() string {
	return "Something went wrong. Please try again later or contact support if the issue persists."
}

// UserFacing is implemented by variants that carry a safe message for callers.
type UserFacing interface {
	UserMessage() string
}
