// Package keyvault generates custodial wallet keys and seals the private key
// material at rest under a service master key.
package keyvault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMasterKeyRequired = errors.New("wallet master key is required")

type WalletKey struct {
	Address      string
	EncryptedKey string
}

// Vault is the key-management collaborator.
type Vault interface {
	GenerateWalletKey() (WalletKey, error)
	DecryptKey(encrypted string) ([]byte, error)
}

type LocalVault struct {
	key []byte
}

func NewLocalVault(masterKey string) (*LocalVault, error) {
	if masterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	derived := sha256.Sum256([]byte(masterKey))
	return &LocalVault{key: derived[:]}, nil
}

func (v *LocalVault) GenerateWalletKey() (WalletKey, error) {
	private := make([]byte, 32)
	if _, err := rand.Read(private); err != nil {
		return WalletKey{}, err
	}
	sealed, err := v.seal(private)
	if err != nil {
		return WalletKey{}, err
	}
	return WalletKey{
		Address:      deriveAddress(private),
		EncryptedKey: sealed,
	}, nil
}

func (v *LocalVault) DecryptKey(encrypted string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

func (v *LocalVault) seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// deriveAddress maps the private key to a 20-byte, 0x-prefixed address. A
// keccak-based derivation from the public key belongs to the node collaborator;
// this local form is stable and format-valid.
func deriveAddress(private []byte) string {
	digest := sha256.Sum256(private)
	return "0x" + hex.EncodeToString(digest[12:32])
}
