// Package condense provides TextCondenser implementations: an HTTP client
// for an external condensation service and a local truncating fallback.
package condense

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/jsonx"
	"github.com/adaptive-context-kernel/internal/provider"
)

// Client calls an external condensation endpoint. Implements
// provider.TextCondenser.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a condenser client against baseURL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("condense"),
	}
}

type condenseRequest struct {
	Text         string `json:"text"`
	TargetTokens int    `json:"target_tokens"`
}

type condenseResponse struct {
	Text string `json:"text"`
}

// Condense implements provider.TextCondenser. Transport and server
// failures map onto the provider sentinels so the pipeline can decide
// about retries.
func (c *Client) Condense(ctx context.Context, text string, targetTokens int) (string, error) {
	body, err := jsonx.Marshal(condenseRequest{Text: text, TargetTokens: targetTokens})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/condense", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("condense: %w", provider.ErrTimeout)
		}
		return "", fmt.Errorf("condense: %w", provider.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("condense: %w", provider.ErrRateLimited)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("condense: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("condense: unexpected status %d", resp.StatusCode)
	}

	var out condenseResponse
	if err := jsonx.DecodeReader(resp.Body, &out); err != nil {
		return "", fmt.Errorf("condense: decode response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("condense: empty result")
	}
	return out.Text, nil
}
