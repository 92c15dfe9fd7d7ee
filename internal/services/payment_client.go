package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentClient talks to the external payment processor's internal API.
type PaymentClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPaymentClient(baseURL string, log *zap.Logger) *PaymentClient {
	return &PaymentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type captureRequest struct {
	AccountID   string `json:"account_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type captureResponse struct {
	FundingProof string `json:"funding_proof"`
}

// Capture charges the payer for the full escrow amount and returns the
// processor's funding proof.
func (c *PaymentClient) Capture(ctx context.Context, accountID uuid.UUID, amountCents int64, currency string) (string, error) {
	var out captureResponse
	err := c.post(ctx, "/internal/capture", captureRequest{
		AccountID:   accountID.String(),
		AmountCents: amountCents,
		Currency:    currency,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("payment capture failed: %w", err)
	}
	if out.FundingProof == "" {
		return "", fmt.Errorf("payment processor returned empty funding proof")
	}
	return out.FundingProof, nil
}

type transferRequest struct {
	AccountID   string `json:"account_id"`
	PayeeID     string `json:"payee_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
}

// Transfer moves released funds to the payee.
func (c *PaymentClient) Transfer(ctx context.Context, accountID, payeeID uuid.UUID, amountCents int64, currency string) (string, error) {
	var out transferResponse
	err := c.post(ctx, "/internal/transfer", transferRequest{
		AccountID:   accountID.String(),
		PayeeID:     payeeID.String(),
		AmountCents: amountCents,
		Currency:    currency,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("payment transfer failed: %w", err)
	}
	if out.TransferID == "" {
		return "", fmt.Errorf("payment processor returned empty transfer id")
	}
	return out.TransferID, nil
}

func (c *PaymentClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment processor unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("payment processor returned %d: %s", resp.StatusCode, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
