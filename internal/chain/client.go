// Package chain is the boundary to the blockchain node the mint transactions
// are submitted through.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type SubmitRequest struct {
	ChainID         int64           `json:"chain_id"`
	ContractAddress string          `json:"contract_address"`
	FromAddress     string          `json:"from_address"`
	ToAddress       string          `json:"to_address"`
	Amount          decimal.Decimal `json:"amount"`
	Nonce           int64           `json:"nonce"`
}

type SubmitResult struct {
	TxHash string `json:"tx_hash"`
}

type ConfirmationStatus struct {
	Confirmations int     `json:"confirmations"`
	BlockNumber   *int64  `json:"block_number"`
	BlockHash     *string `json:"block_hash"`
}

// Client is the node collaborator. PendingNonce reports the chain's view of
// the next usable nonce; local reservation still decides the one submitted.
type Client interface {
	SubmitTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	GetConfirmations(ctx context.Context, chainID int64, txHash string) (ConfirmationStatus, error)
	PendingNonce(ctx context.Context, chainID int64, address string) (int64, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) SubmitTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var result SubmitResult
	if err := c.post(ctx, "/transactions", req, &result); err != nil {
		return SubmitResult{}, err
	}
	if result.TxHash == "" {
		return SubmitResult{}, fmt.Errorf("node returned empty tx hash")
	}
	return result, nil
}

func (c *HTTPClient) GetConfirmations(ctx context.Context, chainID int64, txHash string) (ConfirmationStatus, error) {
	var status ConfirmationStatus
	err := c.post(ctx, "/confirmations", map[string]any{"chain_id": chainID, "tx_hash": txHash}, &status)
	return status, err
}

func (c *HTTPClient) PendingNonce(ctx context.Context, chainID int64, address string) (int64, error) {
	var result struct {
		Nonce int64 `json:"nonce"`
	}
	err := c.post(ctx, "/nonce", map[string]any{"chain_id": chainID, "address": address}, &result)
	return result.Nonce, err
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %d: %s", resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, dest)
}
