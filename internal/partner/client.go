// Package partner provides the client for the fiat liquidity partner API:
// rate quotes, bank account verification, off-ramp order creation, payout
// initiation, and order status lookup.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"crossrail/internal/models"

	"github.com/shopspring/decimal"
)

// Client is a client for the liquidity partner API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new liquidity partner API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RateQuote is the partner's token to fiat conversion quote.
type RateQuote struct {
	Token    string          `json:"token"`
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}

// BankAccount is the partner's view of a verified payout destination.
type BankAccount struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	AccountName   string `json:"account_name"`
}

// Order is a created off-ramp order: the partner's identifier plus the
// address the tokens must be transferred to.
type Order struct {
	OrderId        string `json:"order_id"`
	ReceiveAddress string `json:"receive_address"`
}

// Payout is a created fiat payout order.
type Payout struct {
	PayoutOrderId string `json:"payout_order_id"`
	Status        string `json:"status"`
}

// OrderStatus is the partner's reported lifecycle state for an order. The
// vocabulary is the partner's own; callers map it to internal statuses.
type OrderStatus struct {
	OrderId string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// ErrorResponse represents an error returned by the partner API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("partner api error: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("partner api error: status %d", e.StatusCode)
}

// IsRetryable reports whether the error is worth another attempt: transport
// failures, rate limiting, and partner-side 5xx responses. Explicit partner
// rejections are permanent.
func IsRetryable(err error) bool {
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Transport failures and undecodable responses wrap into plain errors;
	// treat those as transient.
	return true
}

// IsInvalidAccount reports whether the error is the partner explicitly
// rejecting the bank account, as opposed to the verification call failing.
func IsInvalidAccount(err error) bool {
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnprocessableEntity ||
			apiErr.Code == "invalid_account"
	}
	return false
}

// GetRate fetches the current conversion rate for one token/currency pair.
func (c *Client) GetRate(ctx context.Context, token, currency string) (*RateQuote, error) {
	path := fmt.Sprintf("/v1/rates?token=%s&currency=%s", token, currency)
	var quote RateQuote
	if err := c.do(ctx, http.MethodGet, path, nil, &quote); err != nil {
		return nil, err
	}
	if quote.Rate.IsZero() || quote.Rate.IsNegative() {
		return nil, fmt.Errorf("partner returned non-positive rate %s for %s/%s", quote.Rate, token, currency)
	}
	return &quote, nil
}

// VerifyBankAccount resolves an account number and bank code to the
// registered account holder. An invalid account is distinguishable via
// IsInvalidAccount.
func (c *Client) VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (*BankAccount, error) {
	body := map[string]string{
		"account_number": accountNumber,
		"bank_code":      bankCode,
	}
	var account BankAccount
	if err := c.do(ctx, http.MethodPost, "/v1/banks/verify", body, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateOrder opens an off-ramp order with the partner and returns the
// address the token amount must be sent to.
func (c *Client) CreateOrder(ctx context.Context, tx *models.OfframpTransaction) (*Order, error) {
	body := map[string]any{
		"reference":    tx.Id,
		"token":        tx.SourceToken,
		"network":      tx.SourceNetwork,
		"token_amount": tx.SourceAmount.String(),
		"currency":     tx.FiatCurrency,
		"fiat_amount":  tx.FiatAmount.String(),
		"rate":         tx.Rate.String(),
		"bank_details": tx.BankDetails,
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, err
	}
	if order.OrderId == "" || order.ReceiveAddress == "" {
		return nil, fmt.Errorf("partner returned incomplete order: %+v", order)
	}
	return &order, nil
}

// CreatePayout initiates the fiat payout for a funded order. The reference
// is the off-ramp transaction id, which the partner deduplicates on, so a
// retried call after a timeout cannot create a second payout.
func (c *Client) CreatePayout(ctx context.Context, orderId, reference string) (*Payout, error) {
	body := map[string]string{
		"order_id":  orderId,
		"reference": reference,
	}
	var payout Payout
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", body, &payout); err != nil {
		return nil, err
	}
	if payout.PayoutOrderId == "" {
		return nil, fmt.Errorf("partner returned incomplete payout: %+v", payout)
	}
	return &payout, nil
}

// GetOrderStatus fetches the partner's current status for an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderId string) (*OrderStatus, error) {
	var status OrderStatus
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderId, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to partner failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode partner response: %w", err)
		}
	}
	return nil
}
