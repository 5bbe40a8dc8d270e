// Package kyc provides the client for the identity verification provider.
package kyc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status is the provider's verification state for a user.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusRejected   Status = "rejected"
)

// Client is a client for the KYC provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type statusResponse struct {
	UserId string `json:"user_id"`
	Status Status `json:"status"`
}

// GetStatus fetches the user's verification status. Unknown users report
// not_started rather than an error.
func (c *Client) GetStatus(ctx context.Context, userId string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/verifications/"+userId, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to kyc provider failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusNotStarted, nil
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("kyc provider returned status %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode kyc response: %w", err)
	}

	switch body.Status {
	case StatusNotStarted, StatusPending, StatusVerified, StatusRejected:
		return body.Status, nil
	default:
		return "", fmt.Errorf("kyc provider returned unknown status %q", body.Status)
	}
}
