package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidTxHash         = errors.New("invalid transaction hash")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
)

var (
	addressRegex        = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashRegex         = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	idempotencyKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,255}$`)
)

func ValidateAddress(address string) error {
	if !addressRegex.MatchString(address) {
		return ErrInvalidAddress
	}
	return nil
}

func ValidateTxHash(hash string) error {
	if !txHashRegex.MatchString(hash) {
		return ErrInvalidTxHash
	}
	return nil
}

func ValidateIdempotencyKey(key string) error {
	if !idempotencyKeyRegex.MatchString(key) {
		return ErrInvalidIdempotencyKey
	}
	return nil
}
