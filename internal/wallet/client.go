package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client queries the external wallet service for coin balances.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a wallet service client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// Balance fetches the user's current balance from the wallet service.
func (c *Client) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	url := fmt.Sprintf("%s/wallets/%s/balance", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("wallet status: %d", resp.StatusCode)
	}
	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return body.Balance, nil
}
