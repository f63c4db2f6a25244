// Package ack provides the Go client for the adaptive context kernel API.
package ack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running kernel over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    config.BaseURL,
	}
}

// AddTurn appends a message to a conversation and returns the stored node.
func (c *Client) AddTurn(ctx context.Context, conversationID string, req *AddTurnRequest) (*MessageNode, error) {
	var node MessageNode
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/turns"
	if err := c.post(ctx, path, req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Compile builds the context window for a node under a token budget.
func (c *Client) Compile(ctx context.Context, conversationID string, req *CompileRequest) (*ContextWindow, error) {
	var window ContextWindow
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/compile"
	if err := c.post(ctx, path, req, &window); err != nil {
		return nil, err
	}
	return &window, nil
}

// Critique compiles a window and returns it with a quality assessment.
func (c *Client) Critique(ctx context.Context, conversationID string, req *CritiqueRequest) (*ContextWindow, error) {
	var window ContextWindow
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/critique"
	if err := c.post(ctx, path, req, &window); err != nil {
		return nil, err
	}
	return &window, nil
}

// EndConversation cancels pending work and archives the conversation.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Retrieve searches an index and gates the results.
func (c *Client) Retrieve(ctx context.Context, req *RetrieveRequest) ([]Candidate, error) {
	var resp chunksResponse
	if err := c.post(ctx, "/api/retrieve", req, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Filter gates externally produced candidates.
func (c *Client) Filter(ctx context.Context, req *FilterRequest) ([]Candidate, error) {
	var resp chunksResponse
	if err := c.post(ctx, "/api/gate/filter", req, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// SendFeedback reports retrieval quality back to the gate.
func (c *Client) SendFeedback(ctx context.Context, req *FeedbackRequest) error {
	return c.post(ctx, "/api/gate/feedback", req, nil)
}

// GateProfile fetches the adaptive state of a gating profile.
func (c *Client) GateProfile(ctx context.Context, projectID, retrievalType string) (*GateProfile, error) {
	var profile GateProfile
	path := "/api/gate/" + url.PathEscape(projectID) + "/" + url.PathEscape(retrievalType)
	if err := c.get(ctx, path, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Stats returns kernel counters.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.get(ctx, "/api/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	var resp map[string]string
	return c.get(ctx, "/health", &resp)
}

func (c *Client) post(ctx context.Context, path string, body, resp interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, resp)
}

func (c *Client) get(ctx context.Context, path string, resp interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, resp interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(data))
	}

	if resp != nil && httpResp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(httpResp.Body).Decode(resp)
	}
	return nil
}
