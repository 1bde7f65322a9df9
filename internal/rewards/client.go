package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-rewards/backend/internal/models"
)

// ErrAlreadyWatched is returned when the provider rejects a claim because the
// user was already credited for this media. Callers treat it as informational,
// not a failure.
var ErrAlreadyWatched = errors.New("user has already watched this video")

// ValidationError is a 400 from the provider with a human-readable message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "claim rejected: " + e.Message }

// alreadyWatchedMessage is the provider's exact duplicate-claim message;
// substring matching below covers older provider versions.
const alreadyWatchedMessage = "User has already watched this video"

// Client submits reward claims to the rewards provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a rewards provider client.
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

type providerResponse struct {
	Message string `json:"message"`
}

// SubmitClaim POSTs a claim to the provider. Returns nil on success,
// ErrAlreadyWatched for duplicate claims (exact or substring-matched message),
// *ValidationError for 400s, or a generic error otherwise.
func (c *Client) SubmitClaim(ctx context.Context, claim *models.RewardClaim) error {
	body, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/claims", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit claim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var pr providerResponse
	_ = json.Unmarshal(raw, &pr)
	msg := pr.Message
	if msg == "" {
		msg = string(raw)
	}

	if msg == alreadyWatchedMessage || strings.Contains(strings.ToLower(msg), "already watched") {
		return ErrAlreadyWatched
	}
	if resp.StatusCode == http.StatusBadRequest {
		return &ValidationError{Message: msg}
	}
	return fmt.Errorf("provider status %d: %s", resp.StatusCode, msg)
}
